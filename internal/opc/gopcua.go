package opc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
)

// Dial is the production Dialer: a Transport backed by github.com/gopcua/opcua
// over binary TCP (opc.tcp://host:port/path).
func Dial(cfg SessionConfig) (Transport, error) {
	return &uaTransport{cfg: cfg}, nil
}

type uaTransport struct {
	cfg SessionConfig

	mu     sync.Mutex
	client *opcua.Client
	subs   []*uaSub
}

func (t *uaTransport) Connect(ctx context.Context) error {
	endpoints, err := opcua.GetEndpoints(ctx, t.cfg.Endpoint)
	if err != nil {
		return &ProtocolError{Kind: ErrEndpointUnreachable, Endpoint: t.cfg.Endpoint, ConnectionLost: true, Err: err}
	}
	ep, err := opcua.SelectEndpoint(endpoints, t.cfg.SecurityPolicy, ua.MessageSecurityModeFromString(t.cfg.SecurityMode))
	if err != nil {
		return &ProtocolError{
			Kind:     ErrSecurityRejected,
			Endpoint: t.cfg.Endpoint,
			Err:      fmt.Errorf("server offers no endpoint with policy %q mode %q: %w", t.cfg.SecurityPolicy, t.cfg.SecurityMode, err),
		}
	}

	opts := []opcua.Option{
		opcua.SecurityPolicy(t.cfg.SecurityPolicy),
		opcua.SecurityModeString(t.cfg.SecurityMode),
		opcua.RequestTimeout(t.cfg.CallTimeout),
	}
	if t.cfg.CertFile != "" {
		opts = append(opts, opcua.CertificateFile(t.cfg.CertFile), opcua.PrivateKeyFile(t.cfg.KeyFile))
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			opcua.AuthUsername(t.cfg.Username, t.cfg.Password),
			opcua.SecurityFromEndpoint(ep, ua.UserTokenTypeUserName),
		)
	} else {
		opts = append(opts,
			opcua.AuthAnonymous(),
			opcua.SecurityFromEndpoint(ep, ua.UserTokenTypeAnonymous),
		)
	}

	client, err := opcua.NewClient(ep.EndpointURL, opts...)
	if err != nil {
		return &ProtocolError{Kind: ErrEndpointUnreachable, Endpoint: t.cfg.Endpoint, Err: err}
	}
	if err := client.Connect(ctx); err != nil {
		return t.classifyConnect(err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	return nil
}

func (t *uaTransport) classifyConnect(err error) error {
	var code ua.StatusCode
	if errors.As(err, &code) {
		switch code {
		case ua.StatusBadUserAccessDenied, ua.StatusBadIdentityTokenInvalid, ua.StatusBadIdentityTokenRejected:
			return &ProtocolError{Kind: ErrAuthFailed, Endpoint: t.cfg.Endpoint, Status: uint32(code), Err: err}
		case ua.StatusBadSecurityChecksFailed, ua.StatusBadSecurityPolicyRejected, ua.StatusBadSecurityModeRejected, ua.StatusBadCertificateInvalid, ua.StatusBadCertificateUntrusted:
			return &ProtocolError{Kind: ErrSecurityRejected, Endpoint: t.cfg.Endpoint, Status: uint32(code), Err: err}
		}
	}
	return &ProtocolError{Kind: ErrEndpointUnreachable, Endpoint: t.cfg.Endpoint, ConnectionLost: true, Err: err}
}

func (t *uaTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	if client != nil {
		return client.Close(ctx)
	}
	return nil
}

func (t *uaTransport) getClient() (*opcua.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, &ProtocolError{Kind: ErrSessionNotConnected, Endpoint: t.cfg.Endpoint}
	}
	return t.client, nil
}

// wrap classifies an operation error: transport-level failures are marked
// as connection loss so the session enters Reconnecting.
func (t *uaTransport) wrap(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	perr := &ProtocolError{Kind: kind, Endpoint: t.cfg.Endpoint, Err: err}
	var code ua.StatusCode
	switch {
	case errors.As(err, &code):
		perr.Status = uint32(code)
		switch code {
		case ua.StatusBadSessionIDInvalid, ua.StatusBadSessionClosed, ua.StatusBadSecureChannelClosed,
			ua.StatusBadServerNotConnected, ua.StatusBadConnectionClosed, ua.StatusBadCommunicationError:
			perr.ConnectionLost = true
		case ua.StatusBadTimeout:
			perr.Kind = ErrTimeout
		}
	case errors.Is(err, io.EOF), isNetError(err):
		perr.ConnectionLost = true
	}
	return perr
}

func isNetError(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr)
}

func (t *uaTransport) Read(ctx context.Context, nodeIDs []string) (map[string]ReadResult, error) {
	client, err := t.getClient()
	if err != nil {
		return nil, err
	}
	ids := make([]*ua.NodeID, 0, len(nodeIDs))
	toRead := make([]*ua.ReadValueID, 0, len(nodeIDs))
	for _, s := range nodeIDs {
		nid, err := ua.ParseNodeID(s)
		if err != nil {
			return nil, &ProtocolError{Kind: ErrBrowseFailed, Endpoint: t.cfg.Endpoint, Err: fmt.Errorf("invalid node id %q: %w", s, err)}
		}
		ids = append(ids, nid)
		toRead = append(toRead, &ua.ReadValueID{NodeID: nid, AttributeID: ua.AttributeIDValue})
	}

	resp, err := client.Read(ctx, &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        toRead,
	})
	if err != nil {
		return nil, t.wrap(ErrSessionNotConnected, err)
	}

	out := make(map[string]ReadResult, len(nodeIDs))
	for i, dv := range resp.Results {
		res := ReadResult{Status: uint32(dv.Status)}
		if dv.Value != nil {
			res.Value = dv.Value.Value()
		}
		if !dv.SourceTimestamp.IsZero() {
			res.Timestamp = dv.SourceTimestamp
		} else {
			res.Timestamp = dv.ServerTimestamp
		}
		out[nodeIDs[i]] = res
	}
	return out, nil
}

func (t *uaTransport) Write(ctx context.Context, nodeID string, v any) (uint32, error) {
	client, err := t.getClient()
	if err != nil {
		return 0, err
	}
	nid, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return 0, &ProtocolError{Kind: ErrWriteRejected, Endpoint: t.cfg.Endpoint, Err: fmt.Errorf("invalid node id %q: %w", nodeID, err)}
	}
	variant, err := ua.NewVariant(v)
	if err != nil {
		return 0, &ProtocolError{Kind: ErrWriteRejected, Endpoint: t.cfg.Endpoint, Err: fmt.Errorf("unsupported value %T: %w", v, err)}
	}

	resp, err := client.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      nid,
			AttributeID: ua.AttributeIDValue,
			Value:       &ua.DataValue{EncodingMask: ua.DataValueValue, Value: variant},
		}},
	})
	if err != nil {
		return 0, t.wrap(ErrWriteRejected, err)
	}
	if len(resp.Results) == 0 {
		return 0, &ProtocolError{Kind: ErrWriteRejected, Endpoint: t.cfg.Endpoint, Err: errors.New("empty write response")}
	}
	if resp.Results[0] == ua.StatusOK {
		return 0, nil
	}
	return uint32(resp.Results[0]), nil
}

func (t *uaTransport) Browse(ctx context.Context, nodeID string) ([]BrowseNode, error) {
	client, err := t.getClient()
	if err != nil {
		return nil, err
	}
	nid, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return nil, &ProtocolError{Kind: ErrBrowseFailed, Endpoint: t.cfg.Endpoint, Err: fmt.Errorf("invalid node id %q: %w", nodeID, err)}
	}

	resp, err := client.Browse(ctx, &ua.BrowseRequest{
		View:                          &ua.ViewDescription{ViewID: ua.NewTwoByteNodeID(0)},
		RequestedMaxReferencesPerNode: 0,
		NodesToBrowse: []*ua.BrowseDescription{{
			NodeID:          nid,
			BrowseDirection: ua.BrowseDirectionForward,
			ReferenceTypeID: ua.NewNumericNodeID(0, id.HierarchicalReferences),
			IncludeSubtypes: true,
			NodeClassMask:   uint32(ua.NodeClassAll),
			ResultMask:      uint32(ua.BrowseResultMaskAll),
		}},
	})
	if err != nil {
		return nil, t.wrap(ErrBrowseFailed, err)
	}
	if len(resp.Results) == 0 {
		return nil, &ProtocolError{Kind: ErrBrowseFailed, Endpoint: t.cfg.Endpoint, Err: errors.New("empty browse response")}
	}

	var out []BrowseNode
	result := resp.Results[0]
	for {
		if result.StatusCode != ua.StatusOK {
			return nil, &ProtocolError{Kind: ErrBrowseFailed, Endpoint: t.cfg.Endpoint, Status: uint32(result.StatusCode)}
		}
		for _, ref := range result.References {
			out = append(out, BrowseNode{
				NodeID:     ref.NodeID.NodeID.String(),
				BrowseName: ref.BrowseName.Name,
				Class:      nodeClassOf(ref.NodeClass),
			})
		}
		// Servers that limit result size hand back a continuation point.
		if len(result.ContinuationPoint) == 0 {
			return out, nil
		}
		next, err := client.BrowseNext(ctx, &ua.BrowseNextRequest{
			ContinuationPoints: [][]byte{result.ContinuationPoint},
		})
		if err != nil {
			return nil, t.wrap(ErrBrowseFailed, err)
		}
		if len(next.Results) == 0 {
			return out, nil
		}
		result = next.Results[0]
	}
}

func nodeClassOf(c ua.NodeClass) NodeClass {
	switch c {
	case ua.NodeClassObject:
		return ClassObject
	case ua.NodeClassVariable:
		return ClassVariable
	case ua.NodeClassMethod:
		return ClassMethod
	default:
		return ClassUnspecified
	}
}

func (t *uaTransport) Call(ctx context.Context, objectID, methodID string, args []any) ([]any, error) {
	client, err := t.getClient()
	if err != nil {
		return nil, err
	}
	oid, err := ua.ParseNodeID(objectID)
	if err != nil {
		return nil, &ProtocolError{Kind: ErrCallFailed, Endpoint: t.cfg.Endpoint, Err: fmt.Errorf("invalid object id %q: %w", objectID, err)}
	}
	mid, err := ua.ParseNodeID(methodID)
	if err != nil {
		return nil, &ProtocolError{Kind: ErrCallFailed, Endpoint: t.cfg.Endpoint, Err: fmt.Errorf("invalid method id %q: %w", methodID, err)}
	}
	inputs := make([]*ua.Variant, 0, len(args))
	for _, a := range args {
		variant, err := ua.NewVariant(a)
		if err != nil {
			return nil, &ProtocolError{Kind: ErrCallFailed, Endpoint: t.cfg.Endpoint, Err: fmt.Errorf("unsupported argument %T: %w", a, err)}
		}
		inputs = append(inputs, variant)
	}

	result, err := client.Call(ctx, &ua.CallMethodRequest{
		ObjectID:       oid,
		MethodID:       mid,
		InputArguments: inputs,
	})
	if err != nil {
		return nil, t.wrap(ErrCallFailed, err)
	}
	if result.StatusCode != ua.StatusOK {
		return nil, &ProtocolError{Kind: ErrCallFailed, Endpoint: t.cfg.Endpoint, Status: uint32(result.StatusCode)}
	}
	outs := make([]any, 0, len(result.OutputArguments))
	for _, v := range result.OutputArguments {
		outs = append(outs, v.Value())
	}
	return outs, nil
}

// uaSub pumps publish notifications from the client channel into the sink.
type uaSub struct {
	sub    *opcua.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *uaSub) Cancel(ctx context.Context) error {
	s.stop()
	return s.sub.Cancel(ctx)
}

func (s *uaSub) stop() {
	s.cancel()
	<-s.done
}

func (t *uaTransport) Subscribe(ctx context.Context, nodeIDs []string, sampling time.Duration, sink func(Notification)) (TransportSub, error) {
	client, err := t.getClient()
	if err != nil {
		return nil, err
	}

	notifyCh := make(chan *opcua.PublishNotificationData, 64)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: sampling}, notifyCh)
	if err != nil {
		return nil, t.wrap(ErrSessionNotConnected, err)
	}

	handles := make(map[uint32]string, len(nodeIDs))
	reqs := make([]*ua.MonitoredItemCreateRequest, 0, len(nodeIDs))
	for i, s := range nodeIDs {
		nid, err := ua.ParseNodeID(s)
		if err != nil {
			_ = sub.Cancel(ctx)
			return nil, &ProtocolError{Kind: ErrBrowseFailed, Endpoint: t.cfg.Endpoint, Err: fmt.Errorf("invalid node id %q: %w", s, err)}
		}
		handle := uint32(i + 1)
		handles[handle] = s
		reqs = append(reqs, opcua.NewMonitoredItemCreateRequestWithDefaults(nid, ua.AttributeIDValue, handle))
	}
	if _, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, reqs...); err != nil {
		_ = sub.Cancel(ctx)
		return nil, t.wrap(ErrSessionNotConnected, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	us := &uaSub{sub: sub, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(us.done)
		for {
			select {
			case <-pumpCtx.Done():
				return
			case data, ok := <-notifyCh:
				if !ok {
					return
				}
				if data.Error != nil {
					continue
				}
				dcn, ok := data.Value.(*ua.DataChangeNotification)
				if !ok {
					continue
				}
				for _, item := range dcn.MonitoredItems {
					nodeID := handles[item.ClientHandle]
					n := Notification{NodeID: nodeID, Status: uint32(item.Value.Status), Timestamp: item.Value.SourceTimestamp}
					if item.Value.Value != nil {
						n.Value = item.Value.Value.Value()
					}
					sink(n)
				}
			}
		}
	}()

	t.mu.Lock()
	t.subs = append(t.subs, us)
	t.mu.Unlock()
	return us, nil
}
