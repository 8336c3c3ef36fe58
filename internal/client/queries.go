package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/udmitri/mtgo/internal/mtproto"
	"github.com/udmitri/mtgo/internal/protocol"
)

// ErrQueryTimeout is delivered to a query's error callback when no answer
// arrived within the configured window.
var ErrQueryTimeout = errors.New("query timed out")

// RPCError is a server-reported failure for one query.
type RPCError struct {
	Code    int32
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// pendingQuery is one in-flight request awaiting its rpc_result.
type pendingQuery struct {
	msgID    int64
	payload  []byte
	deadline time.Time
	onResult func(body *protocol.Reader) error
	onError  func(err error)
}

// queryTable tracks in-flight queries by message id. Waiting is modeled
// as a callback registration, never as blocking.
type queryTable struct {
	byMsgID map[int64]*pendingQuery
}

func newQueryTable() *queryTable {
	return &queryTable{byMsgID: make(map[int64]*pendingQuery)}
}

func (t *queryTable) add(q *pendingQuery) {
	t.byMsgID[q.msgID] = q
}

// get looks up the query awaiting msgID without removing it.
func (t *queryTable) get(msgID int64) (*pendingQuery, bool) {
	q, ok := t.byMsgID[msgID]
	return q, ok
}

// take resolves and removes the query awaiting msgID.
func (t *queryTable) take(msgID int64) (*pendingQuery, bool) {
	q, ok := t.byMsgID[msgID]
	if ok {
		delete(t.byMsgID, msgID)
	}
	return q, ok
}

// rekey moves a query to a fresh message id for retransmission.
func (t *queryTable) rekey(oldID, newID int64) (*pendingQuery, bool) {
	q, ok := t.byMsgID[oldID]
	if !ok {
		return nil, false
	}
	delete(t.byMsgID, oldID)
	q.msgID = newID
	t.byMsgID[newID] = q
	return q, true
}

// expire removes and returns every query past its deadline.
func (t *queryTable) expire(now time.Time) []*pendingQuery {
	var expired []*pendingQuery
	for id, q := range t.byMsgID {
		if now.After(q.deadline) {
			delete(t.byMsgID, id)
			expired = append(expired, q)
		}
	}
	return expired
}

// failAll drains the table, failing every query with err. Used when the
// connection is torn down.
func (t *queryTable) failAll(err error) {
	for id, q := range t.byMsgID {
		delete(t.byMsgID, id)
		if q.onError != nil {
			q.onError(err)
		}
	}
}

// resolve routes an rpc_result body to the awaiting query, unpacking an
// embedded rpc_error into the error callback.
func (t *queryTable) resolve(msgID int64, body *protocol.Reader) error {
	q, ok := t.take(msgID)
	if !ok {
		// Answers may race a timeout; late results are dropped.
		return nil
	}

	tag, err := body.ReadUint()
	if err != nil {
		return err
	}
	if tag == mtproto.TagRPCError {
		code, err := body.ReadInt()
		if err != nil {
			return err
		}
		msg, err := body.ReadString()
		if err != nil {
			return err
		}
		if q.onError != nil {
			q.onError(&RPCError{Code: code, Message: msg})
		}
		return nil
	}

	if q.onResult == nil {
		return nil
	}
	// Hand the reader back positioned at the constructor. A body that
	// fails to parse fails only this query: the result was already
	// extracted into its own buffer, so the connection cursor is sound.
	rewound := protocol.NewReader(append(tagBytes(tag), remaining(body)...))
	if err := q.onResult(rewound); err != nil {
		if q.onError != nil {
			q.onError(err)
		}
	}
	return nil
}

func tagBytes(tag uint32) []byte {
	return []byte{byte(tag), byte(tag >> 8), byte(tag >> 16), byte(tag >> 24)}
}

func remaining(r *protocol.Reader) []byte {
	rest, err := r.ReadRawCopy(r.Remaining())
	if err != nil {
		return nil
	}
	return rest
}
