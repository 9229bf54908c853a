// Package graph exposes the Core API (spec §6) as a GraphQL surface using
// graph-gophers/graphql-go, the same no-codegen schema-string-plus-
// resolver-struct approach as the teacher's server, generalized from the
// vote domain to the auction domain. LeaderboardUpdates is a native
// graph-gophers subscription field: its resolver returns a receive-only
// channel rather than a value.
package graph

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/lvdashuaibi/bidfeed/config"
	"github.com/lvdashuaibi/bidfeed/internal/apierr"
	"github.com/lvdashuaibi/bidfeed/internal/auth"
	"github.com/lvdashuaibi/bidfeed/internal/authcache"
	"github.com/lvdashuaibi/bidfeed/internal/bidproc"
	"github.com/lvdashuaibi/bidfeed/internal/broadcast"
	"github.com/lvdashuaibi/bidfeed/internal/core"
	"github.com/lvdashuaibi/bidfeed/internal/leaderboard"
	"github.com/lvdashuaibi/bidfeed/internal/monitor"
)

const schemaString = `
type AuthResult {
  token: String!
  userId: String!
  weight: Float!
}

type BidResult {
  accepted: Boolean!
  rank: Int!
  score: Float!
  message: String!
}

type LeaderboardEntry {
  rank: Int!
  userId: String!
  price: Float!
  score: Float!
  isWinner: Boolean!
}

type LeaderboardPage {
  entries: [LeaderboardEntry!]!
  totalBidders: Int!
  highestBid: Float!
  thresholdScore: Float
}

type LeaderboardSnapshot {
  sessionId: String!
  entries: [LeaderboardEntry!]!
  ended: Boolean!
}

type FinalizeResult {
  sessionId: String!
  finalPrice: Float!
}

input SubmitBidInput {
  sessionId: String!
  price: Float!
}

type Query {
  leaderboard(sessionId: String!, page: Int, pageSize: Int): LeaderboardPage!
}

type Mutation {
  login(userId: String!, weight: Float): AuthResult!
  submitBid(input: SubmitBidInput!): BidResult!
  finalizeSession(sessionId: String!): FinalizeResult!
}

type Subscription {
  leaderboardUpdates(sessionId: String!): LeaderboardSnapshot!
}

schema {
  query: Query
  mutation: Mutation
  subscription: Subscription
}
`

// Server hosts the GraphQL schema over HTTP, authenticating each request
// via the Token Cache before handing it to the relay handler.
type Server struct {
	schema     *graphql.Schema
	handler    *relay.Handler
	tokenCache *authcache.Cache
	issuer     *auth.Issuer
}

// NewServer builds the GraphQL server from its resolver's dependencies.
func NewServer(bidProcessor *bidproc.Processor, reader *leaderboard.Reader, mon *monitor.Monitor,
	broadcaster *broadcast.Broadcaster, tokenCache *authcache.Cache, issuer *auth.Issuer) *Server {

	resolver := &Resolver{
		bidProcessor: bidProcessor,
		reader:       reader,
		monitor:      mon,
		broadcaster:  broadcaster,
		tokenCache:   tokenCache,
		issuer:       issuer,
	}

	schema := graphql.MustParseSchema(schemaString, resolver, graphql.UseFieldResolvers())
	handler := &relay.Handler{Schema: schema}

	return &Server{schema: schema, handler: handler, tokenCache: tokenCache, issuer: issuer}
}

type principalKey struct{}

// principalResult is what withPrincipal stashes in the request context:
// either a resolved principal or the apierr.ErrAuthFailed-classified
// reason resolution failed, so a resolver that requires a caller can
// distinguish "no bearer token at all" from "token present but invalid"
// without re-running Authenticate itself.
type principalResult struct {
	principal core.Principal
	err       error
}

// withPrincipal resolves the request's bearer token to a principal via
// the Core API's authenticate(token) operation before handing off to the
// GraphQL handler, so every resolver sees the outcome through
// principalFrom rather than touching the issuer or token cache directly.
func (s *Server) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		principal, err := s.issuer.Authenticate(s.tokenCache, token)
		ctx := context.WithValue(r.Context(), principalKey{}, principalResult{principal: principal, err: err})
		r = r.WithContext(ctx)
		next.ServeHTTP(w, r)
	})
}

// Start serves the GraphQL API and playground on port.
func (s *Server) Start(port int, cfg config.GraphQLConfig) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, s.withPrincipal(s.handler))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(playgroundHTML))
	})

	addr := fmt.Sprintf(":%d", port)
	log.Printf("graphql server listening on %s (endpoint %s)", addr, cfg.Path)
	return http.ListenAndServe(addr, mux)
}

// Resolver implements every field in schemaString.
type Resolver struct {
	bidProcessor *bidproc.Processor
	reader       *leaderboard.Reader
	monitor      *monitor.Monitor
	broadcaster  *broadcast.Broadcaster
	tokenCache   *authcache.Cache
	issuer       *auth.Issuer
}

// principalFrom returns the outcome of authenticating the current
// request's bearer token, as resolved once by withPrincipal.
func principalFrom(ctx context.Context) (core.Principal, error) {
	res, ok := ctx.Value(principalKey{}).(principalResult)
	if !ok {
		return core.Principal{}, apierr.ErrAuthFailed
	}
	return res.principal, res.err
}

// Login mints a bearer token for a user id, the way this system's clients
// bootstrap a session before submitting bids. This is a credential-minting
// operation, distinct from the Core API's authenticate(token) resolution
// that withPrincipal runs on every request.
func (r *Resolver) Login(ctx context.Context, args struct {
	UserID string
	Weight *float64
}) (*AuthResultResolver, error) {
	weight := 1.0
	if args.Weight != nil {
		weight = *args.Weight
	}
	token, err := r.issuer.Issue(args.UserID, weight)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	principal := core.Principal{UserID: args.UserID, Weight: weight}
	r.tokenCache.Set(token, principal)

	return &AuthResultResolver{token: token, principal: principal}, nil
}

// SubmitBid runs the Bid Processor's write path for the caller identified
// by their bearer token.
func (r *Resolver) SubmitBid(ctx context.Context, args struct{ Input SubmitBidInput }) (*BidResultResolver, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return &BidResultResolver{message: apierr.Kind(err).Error()}, nil
	}

	result, err := r.bidProcessor.SubmitBid(ctx, principal, args.Input.SessionID, args.Input.Price, time.Now())
	if err != nil {
		return &BidResultResolver{message: err.Error()}, nil
	}

	return &BidResultResolver{accepted: true, rank: result.Rank, score: result.Score, message: "accepted"}, nil
}

// Leaderboard returns one page of a session's current standings.
func (r *Resolver) Leaderboard(ctx context.Context, args struct {
	SessionID string
	Page      *int32
	PageSize  *int32
}) (*LeaderboardPageResolver, error) {
	page, pageSize := 1, 20
	if args.Page != nil {
		page = int(*args.Page)
	}
	if args.PageSize != nil {
		pageSize = int(*args.PageSize)
	}

	result, err := r.reader.Page(ctx, args.SessionID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &LeaderboardPageResolver{page: result}, nil
}

// FinalizeSession manually triggers finalization of a session, idempotent
// with the Session Monitor's own automatic sweep.
func (r *Resolver) FinalizeSession(ctx context.Context, args struct{ SessionID string }) (*FinalizeResultResolver, error) {
	finalPrice, err := r.monitor.Finalize(ctx, args.SessionID)
	if err != nil {
		return nil, err
	}
	return &FinalizeResultResolver{sessionID: args.SessionID, finalPrice: finalPrice}, nil
}

// LeaderboardUpdates streams a snapshot every time a session's board
// changes, using graph-gophers/graphql-go's native subscription support:
// the resolver returns a channel instead of a value.
func (r *Resolver) LeaderboardUpdates(ctx context.Context, args struct{ SessionID string }) (<-chan *LeaderboardSnapshotResolver, error) {
	snapshots, unsubscribe := r.broadcaster.Subscribe(args.SessionID)
	out := make(chan *LeaderboardSnapshotResolver)

	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				select {
				case out <- &LeaderboardSnapshotResolver{snapshot: snap}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// SubmitBidInput mirrors the schema's input type.
type SubmitBidInput struct {
	SessionID string
	Price     float64
}

// AuthResultResolver resolves the AuthResult type.
type AuthResultResolver struct {
	token     string
	principal core.Principal
}

func (r *AuthResultResolver) Token() string  { return r.token }
func (r *AuthResultResolver) UserID() string { return r.principal.UserID }
func (r *AuthResultResolver) Weight() float64 { return r.principal.Weight }

// BidResultResolver resolves the BidResult type.
type BidResultResolver struct {
	accepted bool
	rank     int64
	score    float64
	message  string
}

func (r *BidResultResolver) Accepted() bool   { return r.accepted }
func (r *BidResultResolver) Rank() int32      { return int32(r.rank) }
func (r *BidResultResolver) Score() float64   { return r.score }
func (r *BidResultResolver) Message() string  { return r.message }

// LeaderboardEntryResolver resolves the LeaderboardEntry type.
type LeaderboardEntryResolver struct {
	entry core.LeaderboardEntry
}

func (r *LeaderboardEntryResolver) Rank() int32      { return int32(r.entry.Rank) }
func (r *LeaderboardEntryResolver) UserID() string   { return r.entry.UserID }
func (r *LeaderboardEntryResolver) Price() float64   { return r.entry.Price }
func (r *LeaderboardEntryResolver) Score() float64   { return r.entry.Score }
func (r *LeaderboardEntryResolver) IsWinner() bool   { return r.entry.IsWinner }

// LeaderboardPageResolver resolves the LeaderboardPage type.
type LeaderboardPageResolver struct {
	page core.LeaderboardPage
}

func (r *LeaderboardPageResolver) Entries() []*LeaderboardEntryResolver {
	out := make([]*LeaderboardEntryResolver, len(r.page.Entries))
	for i, e := range r.page.Entries {
		out[i] = &LeaderboardEntryResolver{entry: e}
	}
	return out
}
func (r *LeaderboardPageResolver) TotalBidders() int32 { return int32(r.page.TotalBidders) }
func (r *LeaderboardPageResolver) HighestBid() float64 { return r.page.HighestBid }
func (r *LeaderboardPageResolver) ThresholdScore() *float64 { return r.page.ThresholdScore }

// LeaderboardSnapshotResolver resolves the LeaderboardSnapshot type.
type LeaderboardSnapshotResolver struct {
	snapshot broadcast.Snapshot
}

func (r *LeaderboardSnapshotResolver) SessionID() string { return r.snapshot.SessionID }
func (r *LeaderboardSnapshotResolver) Entries() []*LeaderboardEntryResolver {
	out := make([]*LeaderboardEntryResolver, len(r.snapshot.Entries))
	for i, e := range r.snapshot.Entries {
		out[i] = &LeaderboardEntryResolver{entry: e}
	}
	return out
}
func (r *LeaderboardSnapshotResolver) Ended() bool { return r.snapshot.Ended }

// FinalizeResultResolver resolves the FinalizeResult type.
type FinalizeResultResolver struct {
	sessionID  string
	finalPrice float64
}

func (r *FinalizeResultResolver) SessionID() string  { return r.sessionID }
func (r *FinalizeResultResolver) FinalPrice() float64 { return r.finalPrice }

const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Bidfeed GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root">
    <style>
      body {
        background-color: rgb(23, 42, 58);
        font-family: Open Sans, sans-serif;
        height: 90vh;
      }
      #root {
        height: 100%;
        width: 100%;
        display: flex;
        align-items: center;
        justify-content: center;
      }
      .loading {
        font-size: 32px;
        font-weight: 200;
        color: rgba(255, 255, 255, .6);
        margin-left: 20px;
      }
      img {
        width: 78px;
        height: 78px;
      }
      .title {
        font-weight: 400;
      }
    </style>
    <img src='https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/logo.png' alt=''>
    <div class="loading">
      <span class="title">Bidfeed GraphQL Playground</span>
    </div>
  </div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '/graphql'
      })
    })</script>
</body>
</html>
`
