package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/djkazic/creatorsplit/internal/types"
)

// logPayload is the stored form of a DisbursementLogEntry. Postgres keeps it
// as JSON; bolt keeps the same struct as CBOR.
type logPayload struct {
	Type       types.LogKind      `json:"type" cbor:"1,keyasint"`
	TS         int64              `json:"ts" cbor:"2,keyasint"`
	TxSig      string             `json:"txSig" cbor:"3,keyasint"`
	Lamports   *uint64            `json:"lamports,omitempty" cbor:"4,keyasint,omitempty"`
	Recipients []recipientPayload `json:"recipients,omitempty" cbor:"5,keyasint,omitempty"`
}

type recipientPayload struct {
	Owner        string `json:"owner" cbor:"1,keyasint"`
	LamportsSent string `json:"lamportsSent" cbor:"2,keyasint"`
}

func payloadFromEntry(e types.DisbursementLogEntry) (*logPayload, error) {
	if e.Signature == "" {
		return nil, errors.New("log entry has no signature")
	}
	p := &logPayload{
		Type:  e.Kind,
		TS:    e.Timestamp.UnixMilli(),
		TxSig: e.Signature,
	}
	switch e.Kind {
	case types.LogKindClaim:
		lamports := e.ClaimedLamports
		p.Lamports = &lamports
	case types.LogKindDisbursement:
		p.Recipients = make([]recipientPayload, len(e.Recipients))
		for i, r := range e.Recipients {
			p.Recipients[i] = recipientPayload{
				Owner:        r.Owner,
				LamportsSent: strconv.FormatUint(r.LamportsSent, 10),
			}
		}
	default:
		return nil, fmt.Errorf("unknown log kind %q", e.Kind)
	}
	return p, nil
}

func (p *logPayload) entry(key string) (types.DisbursementLogEntry, error) {
	e := types.DisbursementLogEntry{
		Kind:      p.Type,
		Signature: p.TxSig,
		Timestamp: time.UnixMilli(p.TS).UTC(),
	}
	if e.Signature == "" {
		e.Signature = key
	}
	if p.Lamports != nil {
		e.ClaimedLamports = *p.Lamports
	}
	if len(p.Recipients) > 0 {
		e.Recipients = make([]types.Recipient, len(p.Recipients))
		for i, r := range p.Recipients {
			sent, err := strconv.ParseUint(r.LamportsSent, 10, 64)
			if err != nil {
				return e, fmt.Errorf("log %s recipient %d: %w", key, i, err)
			}
			e.Recipients[i] = types.Recipient{Owner: r.Owner, LamportsSent: sent}
		}
	}
	return e, nil
}

func encodeLogJSON(e types.DisbursementLogEntry) ([]byte, error) {
	p, err := payloadFromEntry(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

func decodeLogJSON(key string, data []byte) (types.DisbursementLogEntry, error) {
	var p logPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return types.DisbursementLogEntry{}, fmt.Errorf("decode log %s: %w", key, err)
	}
	return p.entry(key)
}

func encodeLogCBOR(e types.DisbursementLogEntry) ([]byte, error) {
	p, err := payloadFromEntry(e)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(p)
}

func decodeLogCBOR(key string, data []byte) (types.DisbursementLogEntry, error) {
	var p logPayload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return types.DisbursementLogEntry{}, fmt.Errorf("decode log %s: %w", key, err)
	}
	return p.entry(key)
}

// runMetricsPayload is the metrics_last_run JSON document.
type runMetricsPayload struct {
	TS               int64 `json:"ts"`
	HoldersProcessed int   `json:"holdersProcessed"`
	BatchesSent      int   `json:"batchesSent"`
	SubRequests      int   `json:"subRequests"`
}

func encodeRunMetrics(m types.RunMetrics) (string, error) {
	b, err := json.Marshal(runMetricsPayload{
		TS:               m.Timestamp.UnixMilli(),
		HoldersProcessed: m.HoldersProcessed,
		BatchesSent:      m.BatchesSent,
		SubRequests:      m.SubRequestsUsed,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeRunMetrics parses a metrics_last_run value.
func DecodeRunMetrics(s string) (types.RunMetrics, error) {
	var p runMetricsPayload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return types.RunMetrics{}, fmt.Errorf("decode %s: %w", KeyMetricsLastRun, err)
	}
	return types.RunMetrics{
		Timestamp:        time.UnixMilli(p.TS).UTC(),
		HoldersProcessed: p.HoldersProcessed,
		BatchesSent:      p.BatchesSent,
		SubRequestsUsed:  p.SubRequests,
	}, nil
}

// lease is the stored form of a named lease.
type lease struct {
	Owner     string `cbor:"1,keyasint"`
	ExpiresAt int64  `cbor:"2,keyasint"` // unix ms
}
