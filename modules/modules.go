// Package modules gathers the built-in node types.
package modules

import (
	"github.com/vk/opcflow/internal/registry"
	"github.com/vk/opcflow/modules/branch"
	"github.com/vk/opcflow/modules/delay"
	"github.com/vk/opcflow/modules/httprequest"
	"github.com/vk/opcflow/modules/loop"
	"github.com/vk/opcflow/modules/opcuabrowse"
	"github.com/vk/opcflow/modules/opcuacall"
	"github.com/vk/opcflow/modules/opcuaread"
	"github.com/vk/opcflow/modules/opcuasubscribe"
	"github.com/vk/opcflow/modules/opcuawrite"
	"github.com/vk/opcflow/modules/print"
	"github.com/vk/opcflow/modules/staticvalue"
	"github.com/vk/opcflow/modules/transform"
	"github.com/vk/opcflow/modules/variable"
)

// RegisterAll registers every built-in node type.
func RegisterAll(r *registry.Registry) {
	branch.Register(r)
	delay.Register(r)
	httprequest.Register(r)
	loop.Register(r)
	opcuabrowse.Register(r)
	opcuacall.Register(r)
	opcuaread.Register(r)
	opcuasubscribe.Register(r)
	opcuawrite.Register(r)
	print.Register(r)
	staticvalue.Register(r)
	transform.Register(r)
	variable.Register(r)
}
