package node

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ihavn1/boat-bowsensors/internal/signalk"
)

var (
	// ErrUnknownPath is returned for puts to paths the node does not own.
	ErrUnknownPath = errors.New("unknown path")
	// ErrReadOnly is returned for puts to measured values.
	ErrReadOnly = errors.New("path is read-only")
	// ErrStopped is returned once the loop no longer accepts commands.
	ErrStopped = errors.New("node stopped")
)

// HandlePut applies a put on the loop goroutine and waits for the result.
// It is safe to call from any goroutine.
func (n *Node) HandlePut(req signalk.PutRequest) signalk.PutResponse {
	result := make(chan error, 1)
	posted := n.loop.Post(func(now time.Time) {
		result <- n.applyPut(req.Put, now)
	})

	var err error
	if !posted {
		err = ErrStopped
	} else {
		select {
		case err = <-result:
		case <-n.loop.Done():
			err = ErrStopped
		}
	}
	return response(req.RequestID, err)
}

func response(requestID string, err error) signalk.PutResponse {
	if err == nil {
		return signalk.PutResponse{
			RequestID:  requestID,
			State:      signalk.StateCompleted,
			StatusCode: http.StatusOK,
		}
	}
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, ErrUnknownPath):
		status = http.StatusNotFound
	case errors.Is(err, ErrReadOnly):
		status = http.StatusMethodNotAllowed
	case errors.Is(err, ErrStopped):
		status = http.StatusServiceUnavailable
	}
	return signalk.PutResponse{
		RequestID:  requestID,
		State:      signalk.StateFailed,
		StatusCode: status,
		Message:    err.Error(),
	}
}

// applyPut runs on the loop. Accepted battery changes are published right
// away so clients see them without waiting for the next output tick.
func (n *Node) applyPut(put signalk.PutBody, now time.Time) error {
	if put.Path == n.cfg.Chain.ResetPath {
		reset, err := put.Bool()
		if err != nil {
			return err
		}
		if reset {
			n.chain.Reset()
			n.publishChain(now)
		}
		return nil
	}

	id, leaf, ok := signalk.ParseBatteryPath(put.Path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, put.Path)
	}
	m, ok := n.byID[id]
	if !ok {
		return fmt.Errorf("%w: no battery %q", ErrUnknownPath, id)
	}

	var set func(float64)
	switch leaf {
	case signalk.LeafRemainingAh:
		set = m.integ.SetAccumulatedAh
	case signalk.LeafChargeEfficiency:
		set = m.integ.SetChargeEfficiency
	case signalk.LeafDischargeEfficiency:
		set = m.integ.SetDischargeEfficiency
	case signalk.LeafNominalAh:
		set = m.integ.SetMarkedCapacityAh
	case signalk.LeafActualAh:
		set = m.integ.SetCurrentCapacityAh
	default:
		return fmt.Errorf("%w: %s", ErrReadOnly, put.Path)
	}

	v, err := put.Float()
	if err != nil {
		return err
	}
	set(v)
	n.publisher.Publish(signalk.NewDelta(n.context, n.cfg.Hostname, now, m.values()...))
	return nil
}
