package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/samber/lo"
)

// Key layout:
//
//	msg:{id}                                  -> cbor(diskMessage)
//	conv:{lo}:{hi}:{created_unix_nano}:{id}   -> empty, conversation order index
//	unseen:{receiver}:{sender}:{id}           -> empty, present while status < seen
//	last:{identity}:{counterpart}             -> id of the newest message between them
//
// {lo}/{hi} are the two participant ids sorted, so both directions share one prefix.
// The created timestamp is zero padded to 19 digits so lexical order is chronological.
const (
	badgerMsgPrefix    = "msg:"
	badgerConvPrefix   = "conv:"
	badgerUnseenPrefix = "unseen:"
	badgerLastPrefix   = "last:"

	badgerTxnRetries = 5
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("realtime: cbor encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("realtime: cbor decoder initialization failed: " + err.Error())
	}
}

type diskMessage struct {
	ID         string `cbor:"1,keyasint"`
	SenderID   string `cbor:"2,keyasint"`
	ReceiverID string `cbor:"3,keyasint"`
	Content    string `cbor:"4,keyasint"`
	Status     string `cbor:"5,keyasint"`
	CreatedAt  int64  `cbor:"6,keyasint"`
	UpdatedAt  int64  `cbor:"7,keyasint"`
}

func toDisk(m Message) diskMessage {
	return diskMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Status:     string(m.Status),
		CreatedAt:  m.CreatedAt.UnixNano(),
		UpdatedAt:  m.UpdatedAt.UnixNano(),
	}
}

func fromDisk(d diskMessage) Message {
	return Message{
		ID:         d.ID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		Status:     Status(d.Status),
		CreatedAt:  time.Unix(0, d.CreatedAt).UTC(),
		UpdatedAt:  time.Unix(0, d.UpdatedAt).UTC(),
	}
}

// BadgerStore is an embedded, durable MessageStore for single-node deployments.
// Every operation runs in one badger transaction, which gives the atomic single-row
// and bulk conditional updates the Engine relies on.
type BadgerStore struct {
	db   *badger.DB
	owns bool
}

// NewBadgerStore wraps an already open database. The caller keeps ownership of db.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("realtime: nil badger db")
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerStore opens (or creates) a database at dir and owns it.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("realtime: empty badger path")
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, owns: true}, nil
}

// Close closes the database when the store opened it.
func (s *BadgerStore) Close() error {
	if s == nil || !s.owns {
		return nil
	}
	return s.db.Close()
}

// CreateMessage stores a new message at StatusSent along with its index keys.
func (s *BadgerStore) CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error) {
	if !validCreateInput(in) {
		return Message{}, errInvalidStoreInput
	}
	msg := in.message()

	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(msgKey(msg.ID)); err == nil {
			return errors.New("realtime: duplicate message id")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := putMessage(txn, msg); err != nil {
			return err
		}
		if err := txn.Set(convKey(msg), nil); err != nil {
			return err
		}
		if err := txn.Set(unseenKey(msg.ReceiverID, msg.SenderID, msg.ID), nil); err != nil {
			return err
		}
		if err := bumpLast(txn, msg.SenderID, msg.ReceiverID, msg); err != nil {
			return err
		}
		if msg.SenderID == msg.ReceiverID {
			return nil
		}
		return bumpLast(txn, msg.ReceiverID, msg.SenderID, msg)
	})
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// AdvanceStatus moves one message forward to in.To when it is currently lower.
func (s *BadgerStore) AdvanceStatus(ctx context.Context, in AdvanceStatusInput) (AdvanceStatusResult, error) {
	if in.MessageID == "" || !in.To.Valid() {
		return AdvanceStatusResult{}, errInvalidStoreInput
	}

	var res AdvanceStatusResult
	err := s.update(ctx, func(txn *badger.Txn) error {
		m, err := getMessage(txn, in.MessageID)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrMessageNotFound
		}
		if err != nil {
			return err
		}

		changed := m.advance(in.To, nowOr(in.Now))
		res = AdvanceStatusResult{Message: m, Changed: changed}
		if !changed {
			return nil
		}
		if err := putMessage(txn, m); err != nil {
			return err
		}
		if m.Status == StatusSeen {
			return txn.Delete(unseenKey(m.ReceiverID, m.SenderID, m.ID))
		}
		return nil
	})
	if err != nil {
		return AdvanceStatusResult{}, err
	}
	return res, nil
}

// MarkSeen moves the selected unseen messages to StatusSeen in one transaction.
func (s *BadgerStore) MarkSeen(ctx context.Context, in MarkSeenInput) ([]string, error) {
	if in.SenderID == "" || in.ReceiverID == "" {
		return nil, errInvalidStoreInput
	}
	if !in.selectsAll() && len(in.MessageIDs) == 0 {
		return nil, nil
	}
	now := nowOr(in.Now)

	var affected []string
	err := s.update(ctx, func(txn *badger.Txn) error {
		affected = affected[:0]

		candidates := lo.Uniq(in.MessageIDs)
		if in.selectsAll() {
			candidates = scanSuffixes(txn, unseenPrefix(in.ReceiverID, in.SenderID))
		}

		for _, id := range candidates {
			m, err := getMessage(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if m.SenderID != in.SenderID || m.ReceiverID != in.ReceiverID {
				continue
			}
			if !m.advance(StatusSeen, now) {
				continue
			}
			if err := putMessage(txn, m); err != nil {
				return err
			}
			if err := txn.Delete(unseenKey(m.ReceiverID, m.SenderID, m.ID)); err != nil {
				return err
			}
			affected = append(affected, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(affected)
	return affected, nil
}

// Conversation returns every message between a and b, oldest first.
func (s *BadgerStore) Conversation(ctx context.Context, a, b string) ([]Message, error) {
	if a == "" || b == "" {
		return nil, errInvalidStoreInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]Message, 0, 32)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range scanSuffixes(txn, convPrefix(a, b)) {
			m, err := getMessage(txn, id)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LatestPerCounterpart returns the most recent message per counterpart, newest first.
func (s *BadgerStore) LatestPerCounterpart(ctx context.Context, identityID string) ([]ConversationSummary, error) {
	if identityID == "" {
		return nil, errInvalidStoreInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []ConversationSummary
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerLastPrefix + identityID + ":")

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			counterpart := string(item.Key()[len(prefix):])

			lastID, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			m, err := getMessage(txn, string(lastID))
			if err != nil {
				return err
			}
			out = append(out, ConversationSummary{CounterpartID: counterpart, LastMessage: m})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSummaries(out)
	return out, nil
}

// update runs fn in a read-write transaction, retrying on optimistic conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < badgerTxnRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getMessage(txn *badger.Txn, id string) (Message, error) {
	item, err := txn.Get(msgKey(id))
	if err != nil {
		return Message{}, err
	}
	var d diskMessage
	if err := item.Value(func(v []byte) error {
		return cborDec.Unmarshal(v, &d)
	}); err != nil {
		return Message{}, err
	}
	return fromDisk(d), nil
}

func putMessage(txn *badger.Txn, m Message) error {
	b, err := cborEnc.Marshal(toDisk(m))
	if err != nil {
		return err
	}
	return txn.Set(msgKey(m.ID), b)
}

// bumpLast points last:{owner}:{counterpart} at m unless a newer message is already recorded.
func bumpLast(txn *badger.Txn, owner, counterpart string, m Message) error {
	key := []byte(badgerLastPrefix + owner + ":" + counterpart)

	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		curID, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		cur, err := getMessage(txn, string(curID))
		if err == nil && !newerThan(m, cur) {
			return nil
		}
	}
	return txn.Set(key, []byte(m.ID))
}

// scanSuffixes returns the trailing id segment of every key under prefix, in key order.
func scanSuffixes(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		k := string(it.Item().Key())
		out = append(out, k[strings.LastIndexByte(k, ':')+1:])
	}
	return out
}

func msgKey(id string) []byte { return []byte(badgerMsgPrefix + id) }

func pairOf(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

func convPrefix(a, b string) []byte {
	first, second := pairOf(a, b)
	return []byte(badgerConvPrefix + first + ":" + second + ":")
}

func convKey(m Message) []byte {
	return append(convPrefix(m.SenderID, m.ReceiverID), fmt.Sprintf("%019d:%s", m.CreatedAt.UnixNano(), m.ID)...)
}

func unseenPrefix(receiver, sender string) []byte {
	return []byte(badgerUnseenPrefix + receiver + ":" + sender + ":")
}

func unseenKey(receiver, sender, id string) []byte {
	return append(unseenPrefix(receiver, sender), id...)
}
