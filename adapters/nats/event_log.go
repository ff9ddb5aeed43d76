package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/evstore/core/es"
)

const (
	defaultSubjectPrefix = "evstore.events"
	defaultStreamName    = "EVSTORE_EVENTS"

	headerAggregateID = "x-aggregate-id"
	headerKind        = "x-kind"

	kindBatch     = "batch"
	kindTombstone = "tombstone"

	fetchBatchSize = 256
	fetchMaxWait   = 2 * time.Second
	// conflictRetries bounds how often a tombstone is retried after losing
	// a compare-and-append race.
	conflictRetries = 5
)

type EventLogConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectFromEnv() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix is prepended to every aggregate subject
	StreamName    string
	// MemoryStorage keeps the stream in memory instead of on disk.
	MemoryStorage bool
	Replicas      int
}

// EventLog is an es.EventLog on a JetStream stream. Every aggregate has
// its own subject and every committed batch is a single message on it, so a
// batch is atomic and the per-subject last sequence doubles as the
// compare-and-append guard. Soft deletes append a tombstone message.
type EventLog struct {
	nc            *natsgo.Conn
	closeNc       Release
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
}

// batchMessage is the payload of one stream message.
type batchMessage struct {
	AggregateID string           `json:"aggregate_id"`
	Records     []es.EventRecord `json:"records,omitempty"`
}

func NewEventLog(cfg EventLogConfig) (*EventLog, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectFromEnv()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}

	log = log.With(
		slog.String("event_log", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	// events are never expired by the stream itself
	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Retention:  jetstream.LimitsPolicy,
		Storage:    storage,
		Replicas:   max(cfg.Replicas, 1),
		MaxAge:     0,
		MaxBytes:   -1,
		MaxMsgs:    -1,
		DenyDelete: true,
		DenyPurge:  true,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log.Debug("ensured", slog.Uint64("messages", streamInfo.State.Msgs))

	return &EventLog{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
	}, nil
}

func (e *EventLog) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event log")
	return nil
}

func (e *EventLog) Version(ctx context.Context, aggregateID string) (es.Version, error) {
	_, v, err := e.head(ctx, aggregateID)
	return v, err
}

func (e *EventLog) Append(
	ctx context.Context,
	aggregateID string,
	expected es.Version,
	records []es.EventRecord,
) ([]es.EventRecord, error) {
	if err := es.ValidateBatch(aggregateID, expected, records); err != nil {
		return nil, err
	}

	lastSeq, current, err := e.head(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if current != expected {
		return nil, es.NewConflictError(aggregateID, expected, current)
	}

	seq, err := e.publish(ctx, aggregateID, kindBatch, batchMessage{AggregateID: aggregateID, Records: records}, lastSeq, records[0].ID)
	if isWrongLastSequence(err) {
		// lost the race against another writer
		_, actual, headErr := e.head(ctx, aggregateID)
		if headErr != nil {
			return nil, headErr
		}
		return nil, es.NewConflictError(aggregateID, expected, actual)
	}
	if err != nil {
		return nil, err
	}

	committed := slices.Clone(records)
	for i := range committed {
		committed[i].Seq = seq
	}
	return committed, nil
}

func (e *EventLog) Load(ctx context.Context, aggregateID string) ([]es.EventRecord, error) {
	lastSeq, _, err := e.head(ctx, aggregateID)
	if err != nil || lastSeq == 0 {
		return nil, err
	}
	return e.consume(ctx, e.subjectFor(aggregateID), lastSeq)
}

func (e *EventLog) LoadAll(ctx context.Context) ([]es.EventRecord, error) {
	info, err := e.stream.Info(ctx)
	if err != nil {
		return nil, err
	}
	if info.State.Msgs == 0 {
		return nil, nil
	}
	return e.consume(ctx, e.subjectPrefix+".>", info.State.LastSeq)
}

// Get scans the stream; JetStream has no secondary index by event id.
func (e *EventLog) Get(ctx context.Context, eventID string) (*es.EventRecord, error) {
	all, err := e.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.ID == eventID {
			return &r, nil
		}
	}
	return nil, nil
}

func (e *EventLog) Tombstone(ctx context.Context, aggregateID string) (int, error) {
	for range conflictRetries {
		lastSeq, current, err := e.head(ctx, aggregateID)
		if err != nil {
			return 0, err
		}
		if current == 0 {
			return 0, nil
		}

		records, err := e.consume(ctx, e.subjectFor(aggregateID), lastSeq)
		if err != nil {
			return 0, err
		}
		live := 0
		for _, r := range records {
			if !r.Deleted {
				live++
			}
		}

		_, err = e.publish(ctx, aggregateID, kindTombstone, batchMessage{AggregateID: aggregateID}, lastSeq, "")
		if isWrongLastSequence(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return live, nil
	}
	return 0, fmt.Errorf("tombstone %s: too many concurrent writers", aggregateID)
}

// head returns the stream sequence of the aggregate's last message and the
// version it leaves the aggregate at.
func (e *EventLog) head(ctx context.Context, aggregateID string) (uint64, es.Version, error) {
	if aggregateID == "" {
		return 0, 0, nil
	}
	subject := e.subjectFor(aggregateID)
	lm, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("get last message for subject %q: %w", subject, err)
	}
	if lm.Header.Get(headerKind) == kindTombstone {
		return lm.Sequence, 0, nil
	}
	var batch batchMessage
	if err := json.Unmarshal(lm.Data, &batch); err != nil {
		return 0, 0, fmt.Errorf("decode last message for subject %q: %w", subject, err)
	}
	if len(batch.Records) == 0 {
		return lm.Sequence, 0, nil
	}
	return lm.Sequence, batch.Records[len(batch.Records)-1].Version, nil
}

func (e *EventLog) publish(
	ctx context.Context,
	aggregateID string,
	kind string,
	payload batchMessage,
	expectedLastSeq uint64,
	msgID string,
) (uint64, error) {
	msg := natsgo.NewMsg(e.subjectFor(aggregateID))
	msg.Header.Set(headerAggregateID, aggregateID)
	msg.Header.Set(headerKind, kind)

	var err error
	msg.Data, err = json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	opts := []jetstream.PublishOpt{jetstream.WithExpectLastSequencePerSubject(expectedLastSeq)}
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	ack, err := e.js.PublishMsg(ctx, msg, opts...)
	if err != nil {
		return 0, err
	}
	if ack.Duplicate {
		return 0, fmt.Errorf("duplicate batch %s for aggregate %s", msgID, aggregateID)
	}
	e.log.Debug(
		"published",
		slog.String("kind", kind),
		slog.String("aggregate_id", aggregateID),
		slog.Uint64("seq", ack.Sequence),
	)
	return ack.Sequence, nil
}

// consume reads filter from the start up to endSeq with an ordered consumer
// and folds tombstones into the records before them.
func (e *EventLog) consume(ctx context.Context, filter string, endSeq uint64) ([]es.EventRecord, error) {
	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{filter},
	})
	if err != nil {
		return nil, err
	}

	var (
		out   []es.EventRecord
		index = map[string][]int{} // aggregate id -> positions in out
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mb, err := cc.Fetch(fetchBatchSize, jetstream.FetchMaxWait(fetchMaxWait))
		if err != nil {
			return nil, err
		}

		var (
			empty = true
			done  bool
		)
		for msg := range mb.Messages() {
			empty = false
			md, err := msg.Metadata()
			if err != nil {
				return nil, err
			}
			seq := md.Sequence.Stream
			aggregateID := msg.Headers().Get(headerAggregateID)

			if msg.Headers().Get(headerKind) == kindTombstone {
				for _, i := range index[aggregateID] {
					out[i].Deleted = true
				}
			} else {
				var batch batchMessage
				if err := json.Unmarshal(msg.Data(), &batch); err != nil {
					return nil, fmt.Errorf("decode message %d: %w", seq, err)
				}
				for _, r := range batch.Records {
					r.Seq = seq
					index[r.AggregateID] = append(index[r.AggregateID], len(out))
					out = append(out, r)
				}
			}

			if seq >= endSeq {
				done = true
				break
			}
		}
		if err := mb.Error(); err != nil && !errors.Is(err, natsgo.ErrTimeout) {
			return nil, err
		}
		if done || empty {
			break
		}
	}
	return out, nil
}

func (e *EventLog) subjectFor(aggregateID string) string {
	return e.subjectPrefix + "." + base64.RawURLEncoding.EncodeToString([]byte(aggregateID))
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

var _ es.EventLog = (*EventLog)(nil)
