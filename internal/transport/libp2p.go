package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	wotcid "github.com/go-wot/wotd/internal/cid"
	"github.com/go-wot/wotd/internal/codec"
	"github.com/go-wot/wotd/internal/wotlog"
)

// LibP2PConfig configures the real, opt-in NetworkClient binding: a
// gossipsub topic per subscribed identity for C5's continuous
// fast-subscriptions, and the Kademlia DHT's value store keyed by
// requestKey+edition for C6's one-shot fetches.
type LibP2PConfig struct {
	ListenAddrs      []multiaddr.Multiaddr
	BootstrapPeers   []multiaddr.Multiaddr
	DHTMode          string // "client", "server", "auto"
	DHTProtocolPrefix string
	BootstrapTimeout time.Duration
}

func DefaultLibP2PConfig() *LibP2PConfig {
	return &LibP2PConfig{
		DHTMode:           "auto",
		DHTProtocolPrefix: "/wotd",
		BootstrapTimeout:  30 * time.Second,
	}
}

var _ NetworkClient = (*LibP2PClient)(nil)

// LibP2PClient implements NetworkClient over a real libp2p host. Every
// identity gets its own gossipsub topic ("wotd/id/<identityID>"); the
// requestKey passed to Subscribe/Fetch doubles as the identity's
// verification public key, since the out-of-scope anonymizing transport
// never specifies how the two are otherwise correlated (§6).
type LibP2PClient struct {
	cfg   *LibP2PConfig
	log   *wotlog.Logger
	codec *codec.IdentityFileCodec

	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub

	mu   sync.Mutex
	subs map[string]*libp2pHandle
}

type libp2pHandle struct {
	topic  string
	sub    *pubsub.Subscription
	topicH *pubsub.Topic
	ch     chan Update
	cancel context.CancelFunc
}

func (h *libp2pHandle) Updates() <-chan Update { return h.ch }

// NewLibP2PClient builds and starts the underlying host, DHT, and
// pubsub router in this order: host, then DHT, then gossipsub, then
// bootstrap.
func NewLibP2PClient(ctx context.Context, cfg *LibP2PConfig, identityCodec *codec.IdentityFileCodec, log *wotlog.Logger) (*LibP2PClient, error) {
	if cfg == nil {
		cfg = DefaultLibP2PConfig()
	}
	if log == nil {
		log = wotlog.New("transport.libp2p", wotlog.LevelNormal)
	}

	h, err := libp2p.New(
		libp2p.ListenAddrs(cfg.ListenAddrs...),
		libp2p.EnableNATService(),
		libp2p.EnableRelay(),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	var mode dht.ModeOpt
	switch cfg.DHTMode {
	case "client":
		mode = dht.ModeClient
	case "server":
		mode = dht.ModeServer
	default:
		mode = dht.ModeAuto
	}
	kadDHT, err := dht.New(ctx, h, dht.Mode(mode), dht.ProtocolPrefix(protocol.ID(cfg.DHTProtocolPrefix)))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("init dht: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithFloodPublish(false), pubsub.WithMessageSigning(true))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("init pubsub: %w", err)
	}

	c := &LibP2PClient{
		cfg:    cfg,
		log:    log,
		codec:  identityCodec,
		host:   h,
		dht:    kadDHT,
		pubsub: ps,
		subs:   make(map[string]*libp2pHandle),
	}

	for _, addr := range cfg.BootstrapPeers {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		connCtx, cancel := context.WithTimeout(ctx, cfg.BootstrapTimeout)
		if err := h.Connect(connCtx, *pi); err != nil {
			log.Warning("bootstrap peer unreachable", map[string]interface{}{"addr": addr.String(), "err": err.Error()})
		}
		cancel()
	}
	if err := kadDHT.Bootstrap(ctx); err != nil {
		log.Warning("dht bootstrap failed", map[string]interface{}{"err": err.Error()})
	}

	return c, nil
}

func (c *LibP2PClient) Close() error {
	if err := c.dht.Close(); err != nil {
		c.log.Warning("dht close error", map[string]interface{}{"err": err.Error()})
	}
	return c.host.Close()
}

func topicName(identityID string) string {
	return "wotd/id/" + identityID
}

func encodeFrame(edition int64, raw []byte) []byte {
	frame := make([]byte, 8+len(raw))
	binary.BigEndian.PutUint64(frame[:8], uint64(edition))
	copy(frame[8:], raw)
	return frame
}

func decodeFrame(frame []byte) (int64, []byte, error) {
	if len(frame) < 8 {
		return 0, nil, fmt.Errorf("frame too short")
	}
	return int64(binary.BigEndian.Uint64(frame[:8])), frame[8:], nil
}

func (c *LibP2PClient) Subscribe(ctx context.Context, identityID, requestKey string) (Handle, error) {
	topic := topicName(identityID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.subs[topic]; ok {
		return h, nil
	}

	topicH, err := c.pubsub.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", topic, err)
	}
	sub, err := topicH.Subscribe()
	if err != nil {
		topicH.Close()
		return nil, fmt.Errorf("subscribe topic %s: %w", topic, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &libp2pHandle{topic: topic, sub: sub, topicH: topicH, ch: make(chan Update, 16), cancel: cancel}
	c.subs[topic] = h

	go c.consumeTopic(runCtx, h, requestKey)
	return h, nil
}

func (c *LibP2PClient) consumeTopic(ctx context.Context, h *libp2pHandle, requestKey string) {
	defer close(h.ch)
	for {
		msg, err := h.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case h.ch <- Update{Err: ErrTransportFailure}:
			case <-ctx.Done():
			}
			continue
		}

		edition, raw, err := decodeFrame(msg.Data)
		if err != nil {
			select {
			case h.ch <- Update{Err: ErrParseFailed}:
			case <-ctx.Done():
				return
			}
			continue
		}

		list, err := c.parse(edition, raw, requestKey)
		if err != nil {
			select {
			case h.ch <- Update{Err: ErrParseFailed}:
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case h.ch <- Update{List: list}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *LibP2PClient) Unsubscribe(handle Handle) error {
	h, ok := handle.(*libp2pHandle)
	if !ok {
		return nil
	}
	c.mu.Lock()
	delete(c.subs, h.topic)
	c.mu.Unlock()

	h.cancel()
	h.sub.Cancel()
	return h.topicH.Close()
}

// dhtKey derives a stable DHT record key from requestKey+edition by
// running them through the same content-addressing machinery the
// domain stack already uses for fetch keys (internal/cid), rather than
// a raw concatenated string.
func (c *LibP2PClient) dhtKey(requestKey string, edition int64) string {
	canonical, err := codec.CanonicalizeJSON(struct {
		Prefix  string `json:"prefix"`
		Key     string `json:"key"`
		Edition int64  `json:"edition"`
	}{c.cfg.DHTProtocolPrefix, requestKey, edition})
	if err != nil {
		return fmt.Sprintf("%s/%s/%d", c.cfg.DHTProtocolPrefix, requestKey, edition)
	}
	cidKey, err := wotcid.GenerateCIDFromCanonicalJSON(canonical)
	if err != nil {
		return fmt.Sprintf("%s/%s/%d", c.cfg.DHTProtocolPrefix, requestKey, edition)
	}
	return cidKey.String()
}

func (c *LibP2PClient) Fetch(ctx context.Context, requestKey string, edition int64) (*ParsedTrustList, error) {
	raw, err := c.dht.GetValue(ctx, c.dhtKey(requestKey, edition))
	if err != nil {
		return nil, ErrNotFound
	}
	return c.parse(edition, raw, requestKey)
}

func (c *LibP2PClient) Insert(ctx context.Context, insertKey string, edition int64, payload []byte) error {
	return c.dht.PutValue(ctx, c.dhtKey(insertKey, edition), payload)
}

func (c *LibP2PClient) parse(edition int64, raw []byte, publicKeyB64 string) (*ParsedTrustList, error) {
	file, err := c.codec.Parse(raw, publicKeyB64)
	if err != nil {
		return nil, err
	}
	list := &ParsedTrustList{Edition: edition, TrustList: make([]TrustAssertion, 0, len(file.TrustList))}
	for _, t := range file.TrustList {
		list.TrustList = append(list.TrustList, TrustAssertion{TrusteeID: t.TrusteeID, Value: t.Value, Comment: t.Comment})
	}
	return list, nil
}

// PublishOwn frames and publishes edition to this identity's gossipsub
// topic, for an OwnIdentity's own trust-list updates to reach live Fast
// Downloader subscribers without waiting on the DHT. Not part of the
// NetworkClient interface since it is only ever called by the publishing
// node itself, never by a downloader.
func (c *LibP2PClient) PublishOwn(ctx context.Context, identityID string, edition int64, raw []byte) error {
	c.mu.Lock()
	h, ok := c.subs[topicName(identityID)]
	c.mu.Unlock()
	if !ok {
		topicH, err := c.pubsub.Join(topicName(identityID))
		if err != nil {
			return err
		}
		defer topicH.Close()
		return topicH.Publish(ctx, encodeFrame(edition, raw))
	}
	return h.topicH.Publish(ctx, encodeFrame(edition, raw))
}
