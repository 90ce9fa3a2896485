package gossip

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/meshfabric/node/id"
	"github.com/meshfabric/node/internal/logger"
	"github.com/meshfabric/node/peerstore"
	"github.com/meshfabric/node/skill"
)

// DialTimeout bounds how long Pump waits to establish an outbound
// gossip connection before dropping the envelope.
const DialTimeout = 5 * time.Second

// kind tags a wireEnvelope's body so the receiving side can decode it
// into the right Go type without carrying the any-typed Envelope.Message
// over the wire.
type kind string

const (
	kindNewRating        kind = "new_rating"
	kindRequestRatings   kind = "request_ratings"
	kindRatingsResponse  kind = "ratings_response"
	kindRequestTopNodes  kind = "request_top_nodes"
	kindTopNodesResponse kind = "top_nodes_response"
	kindSyncRequest      kind = "sync_request"
	kindSyncResponse     kind = "sync_response"

	kindSkillAnnouncement  kind = "skill_announcement"
	kindSkillWithdraw      kind = "skill_withdraw"
	kindSkillQuery         kind = "skill_query"
	kindSkillQueryResponse kind = "skill_query_response"
	kindSkillWhoHas        kind = "skill_who_has"
	kindSkillWhoHasResp    kind = "skill_who_has_response"
)

// wireEnvelope is the newline-delimited JSON transport form of an
// Envelope.
type wireEnvelope struct {
	Kind kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

var errUnknownMessage = errors.New("gossip: unknown message type")

func encodeEnvelope(msg any) (wireEnvelope, error) {
	var k kind
	switch msg.(type) {
	case NewRating:
		k = kindNewRating
	case RequestRatings:
		k = kindRequestRatings
	case RatingsResponse:
		k = kindRatingsResponse
	case RequestTopNodes:
		k = kindRequestTopNodes
	case TopNodesResponse:
		k = kindTopNodesResponse
	case SyncRequest:
		k = kindSyncRequest
	case SyncResponse:
		k = kindSyncResponse
	case skill.Announcement:
		k = kindSkillAnnouncement
	case skill.Withdraw:
		k = kindSkillWithdraw
	case skill.Query:
		k = kindSkillQuery
	case skill.QueryResponse:
		k = kindSkillQueryResponse
	case skill.WhoHas:
		k = kindSkillWhoHas
	case skill.WhoHasResponse:
		k = kindSkillWhoHasResp
	default:
		return wireEnvelope{}, fmt.Errorf("%w: %T", errUnknownMessage, msg)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return wireEnvelope{}, err
	}
	return wireEnvelope{Kind: k, Body: body}, nil
}

func decodeEnvelope(we wireEnvelope) (any, error) {
	switch we.Kind {
	case kindNewRating:
		var m NewRating
		return m, json.Unmarshal(we.Body, &m)
	case kindRequestRatings:
		var m RequestRatings
		return m, json.Unmarshal(we.Body, &m)
	case kindRatingsResponse:
		var m RatingsResponse
		return m, json.Unmarshal(we.Body, &m)
	case kindRequestTopNodes:
		var m RequestTopNodes
		return m, json.Unmarshal(we.Body, &m)
	case kindTopNodesResponse:
		var m TopNodesResponse
		return m, json.Unmarshal(we.Body, &m)
	case kindSyncRequest:
		var m SyncRequest
		return m, json.Unmarshal(we.Body, &m)
	case kindSyncResponse:
		var m SyncResponse
		return m, json.Unmarshal(we.Body, &m)
	case kindSkillAnnouncement:
		var m skill.Announcement
		return m, json.Unmarshal(we.Body, &m)
	case kindSkillWithdraw:
		var m skill.Withdraw
		return m, json.Unmarshal(we.Body, &m)
	case kindSkillQuery:
		var m skill.Query
		return m, json.Unmarshal(we.Body, &m)
	case kindSkillQueryResponse:
		var m skill.QueryResponse
		return m, json.Unmarshal(we.Body, &m)
	case kindSkillWhoHas:
		var m skill.WhoHas
		return m, json.Unmarshal(we.Body, &m)
	case kindSkillWhoHasResp:
		var m skill.WhoHasResponse
		return m, json.Unmarshal(we.Body, &m)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownMessage, we.Kind)
	}
}

// AddressBook resolves a NodeId to a dialable address; peerstore.Store
// satisfies it directly via Get.
type AddressBook interface {
	Get(n id.NodeId) (peerstore.PeerInfo, bool)
}

// Pump drains g's outbox until stop is closed, dialing each envelope's
// target and delivering it as a single newline-terminated JSON frame.
// Delivery is best-effort: a dial or address-lookup failure just drops
// the envelope, matching the outbox's own full-buffer drop semantics.
func Pump(g *Gossiper, book AddressBook, log logger.Logger, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case env, ok := <-g.Outbox():
			if !ok {
				return
			}
			if err := deliver(book, env); err != nil {
				log.Warn("gossip delivery failed", logger.String("target", env.Target.String()), logger.Error(err))
			}
		}
	}
}

func deliver(book AddressBook, env Envelope) error {
	info, ok := book.Get(env.Target)
	if !ok || len(info.Addresses) == 0 {
		return fmt.Errorf("no known address for %s", env.Target.String())
	}

	we, err := encodeEnvelope(env.Message)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", info.Addresses[0], DialTimeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", info.Addresses[0], err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	return enc.Encode(we)
}

// Server accepts inbound gossip connections on a dedicated address,
// decodes one envelope per connection, and folds it into a Gossiper.
type Server struct {
	self     id.NodeId
	gossiper *Gossiper
	log      logger.Logger
	listener net.Listener

	skills *skill.NetworkSkillRegistry
}

// NewServer constructs a gossip Server bound to self's Gossiper.
func NewServer(self id.NodeId, gossiper *Gossiper, log logger.Logger) *Server {
	return &Server{self: self, gossiper: gossiper, log: log}
}

// SetSkillRegistry attaches the network skill registry that skill
// announcement/query gossip should update and answer from. A Server
// with no registry attached drops announcement, withdraw, query and
// who-has messages without a reply or a log line.
func (s *Server) SetSkillRegistry(reg *skill.NetworkSkillRegistry) {
	s.skills = reg
}

// Serve listens on addr and services inbound gossip connections until
// Close is called. It blocks the calling goroutine.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gossip: listen %s: %w", addr, err)
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("gossip accept failed", logger.Error(err))
			continue
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new gossip connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	var we wireEnvelope
	if err := json.NewDecoder(reader).Decode(&we); err != nil {
		s.log.Warn("gossip frame decode failed", logger.Error(err))
		return
	}

	msg, err := decodeEnvelope(we)
	if err != nil {
		s.log.Warn("gossip message decode failed", logger.Error(err))
		return
	}

	switch m := msg.(type) {
	case NewRating:
		if _, err := s.gossiper.HandleNewRating(m); err != nil {
			s.log.Warn("apply gossiped rating failed", logger.Error(err))
		}
	case SyncResponse:
		if _, err := s.gossiper.HandleSyncResponse(m); err != nil {
			s.log.Warn("apply sync response failed", logger.Error(err))
		}
	case RequestRatings:
		resp := s.gossiper.RespondRatings(m.SinceTS)
		s.reply(conn, resp)
	case RequestTopNodes:
		resp := s.gossiper.RespondTopNodes(m.Skill, m.Limit)
		s.reply(conn, resp)
	case SyncRequest:
		resp := s.gossiper.RespondSync(m.SinceTS)
		s.reply(conn, resp)
	case skill.Announcement:
		if s.skills != nil {
			s.skills.ApplyAnnouncement(m)
		}
	case skill.Withdraw:
		if s.skills != nil {
			s.skills.ApplyWithdraw(m)
		}
	case skill.Query:
		if s.skills != nil {
			s.reply(conn, s.skills.RespondQuery(m))
		}
	case skill.WhoHas:
		if s.skills != nil {
			s.reply(conn, s.skills.RespondWhoHas(m))
		}
	default:
		s.log.Warn("gossip message not actionable", logger.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (s *Server) reply(conn net.Conn, msg any) {
	we, err := encodeEnvelope(msg)
	if err != nil {
		s.log.Warn("gossip reply encode failed", logger.Error(err))
		return
	}
	if err := json.NewEncoder(conn).Encode(we); err != nil {
		s.log.Warn("gossip reply write failed", logger.Error(err))
	}
}
