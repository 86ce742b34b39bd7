package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

// OPCUAOptions holds what is needed to open an OPC UA session.
type OPCUAOptions struct {
	Endpoint        string
	Username        string
	Password        string
	SecurityMode    string
	SecurityPolicy  string
	ApplicationName string
	Timeout         time.Duration
}

// OPCUATransport talks to the controller over OPC UA.
type OPCUATransport struct {
	opts   OPCUAOptions
	client *opcua.Client
	sub    *opcua.Subscription
	notify chan *opcua.PublishNotificationData
}

func NewOPCUATransport(opts OPCUAOptions) *OPCUATransport {
	if opts.ApplicationName == "" {
		opts.ApplicationName = "HGU Gateway"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &OPCUATransport{opts: opts}
}

func (t *OPCUATransport) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(t.opts.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(t.opts.SecurityPolicy)),
		opcua.ApplicationName(t.opts.ApplicationName),
		// Reconnection is owned by the session supervisor.
		opcua.AutoReconnect(false),
		opcua.DialTimeout(t.opts.Timeout),
		opcua.RequestTimeout(t.opts.Timeout),
	}
	if t.opts.Username != "" {
		opts = append(opts, opcua.AuthUsername(t.opts.Username, t.opts.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func (t *OPCUATransport) Open(ctx context.Context) error {
	client, err := opcua.NewClient(t.opts.Endpoint, t.clientOptions()...)
	if err != nil {
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua connect %s: %w", t.opts.Endpoint, err)
	}
	t.client = client
	return nil
}

func (t *OPCUATransport) Close(ctx context.Context) error {
	var err error
	if t.sub != nil {
		if e := t.sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
		t.sub = nil
	}
	if t.client != nil {
		if e := t.client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
		t.client = nil
	}
	t.notify = nil
	return err
}

func (t *OPCUATransport) Read(ctx context.Context, item Item) error {
	if t.client == nil {
		return ua.StatusBadServerNotConnected
	}
	resp, err := t.client.Read(ctx, &ua.ReadRequest{
		MaxAge:             2000,
		NodesToRead:        []*ua.ReadValueID{{NodeID: nodeID(item.Address), AttributeID: ua.AttributeIDValue}},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return fmt.Errorf("opcua read %s: %w", item.Address, err)
	}
	if len(resp.Results) == 0 {
		return fmt.Errorf("opcua read %s: empty result", item.Address)
	}
	if st := resp.Results[0].Status; st != ua.StatusOK {
		return st
	}
	return nil
}

func (t *OPCUATransport) Subscribe(ctx context.Context, interval time.Duration, items []Item) ([]uint32, error) {
	if t.client == nil {
		return nil, ua.StatusBadServerNotConnected
	}
	notify := make(chan *opcua.PublishNotificationData, len(items)*4+16)
	sub, err := t.client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: interval}, notify)
	if err != nil {
		return nil, fmt.Errorf("opcua subscribe: %w", err)
	}

	reqs := make([]*ua.MonitoredItemCreateRequest, 0, len(items))
	for _, it := range items {
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID(it.Address), ua.AttributeIDValue, it.Handle)
		req.RequestedParameters.SamplingInterval = float64(interval / time.Millisecond)
		req.RequestedParameters.QueueSize = 1
		req.RequestedParameters.DiscardOldest = true
		reqs = append(reqs, req)
	}

	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, reqs...)
	if err != nil {
		_ = sub.Cancel(ctx)
		return nil, fmt.Errorf("opcua monitor: %w", err)
	}
	accepted := make([]uint32, 0, len(reqs))
	for i, r := range res.Results {
		if i < len(reqs) && r.StatusCode == ua.StatusOK {
			accepted = append(accepted, reqs[i].RequestedParameters.ClientHandle)
		}
	}
	t.sub = sub
	t.notify = notify
	return accepted, nil
}

func (t *OPCUATransport) Unsubscribe(ctx context.Context) error {
	if t.sub == nil {
		return nil
	}
	err := t.sub.Cancel(ctx)
	t.sub = nil
	t.notify = nil
	return err
}

// Poll drains whatever the subscription delivered since the last call.
func (t *OPCUATransport) Poll(ctx context.Context) ([]Notification, error) {
	if t.notify == nil {
		return nil, nil
	}
	var out []Notification
	for i := 0; i < cap(t.notify); i++ {
		select {
		case <-ctx.Done():
			return out, nil
		case msg := <-t.notify:
			if msg == nil {
				continue
			}
			if msg.Error != nil {
				return out, msg.Error
			}
			out = append(out, dataChanges(msg.Value)...)
		default:
			return out, nil
		}
	}
	return out, nil
}

func dataChanges(v any) []Notification {
	data, ok := v.(*ua.DataChangeNotification)
	if !ok {
		return nil
	}
	out := make([]Notification, 0, len(data.MonitoredItems))
	for _, item := range data.MonitoredItems {
		if item == nil {
			continue
		}
		n := Notification{Handle: item.ClientHandle}
		if dv := item.Value; dv != nil {
			if dv.Value != nil {
				n.Value = dv.Value.Value()
			}
			n.Good = dv.Status == ua.StatusOK
			n.Timestamp = dv.SourceTimestamp
			if n.Timestamp.IsZero() {
				n.Timestamp = dv.ServerTimestamp
			}
		}
		out = append(out, n)
	}
	return out
}

func nodeID(a Address) *ua.NodeID {
	if a.IsNumeric {
		return ua.NewNumericNodeID(a.Namespace, a.Numeric)
	}
	return ua.NewStringNodeID(a.Namespace, a.Text)
}

var retriableStatus = map[ua.StatusCode]bool{
	ua.StatusBadConnectionClosed:   true,
	ua.StatusBadServerNotConnected: true,
	ua.StatusBadTimeout:            true,
	ua.StatusBadCommunicationError: true,
}

func isRetriableStatus(err error) bool {
	var sc ua.StatusCode
	if errors.As(err, &sc) {
		return retriableStatus[sc]
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}
