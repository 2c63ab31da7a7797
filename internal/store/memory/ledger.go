// Package memory implements domain.Ledger as a single-writer in-memory
// store. Committed transactions are appended to a JSON-lines write-ahead log
// and fsynced before they become visible, so the state survives restarts.
package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

type positionKey struct {
	market domain.MarketID
	owner  domain.Principal
}

type state struct {
	settings  *domain.Settings
	markets   map[domain.MarketID]domain.Market
	positions map[positionKey]domain.Position
	balances  map[domain.Principal]uint64
}

func newState() *state {
	return &state{
		markets:   make(map[domain.MarketID]domain.Market),
		positions: make(map[positionKey]domain.Position),
		balances:  make(map[domain.Principal]uint64),
	}
}

// record is one committed transaction in the write-ahead log.
type record struct {
	Seq       uint64                      `json:"seq"`
	Settings  *domain.Settings            `json:"settings,omitempty"`
	Markets   []domain.Market             `json:"markets,omitempty"`
	Positions []domain.Position           `json:"positions,omitempty"`
	Balances  map[domain.Principal]uint64 `json:"balances,omitempty"`
}

func (s *state) apply(r record) {
	if r.Settings != nil {
		cp := *r.Settings
		s.settings = &cp
	}
	for _, m := range r.Markets {
		s.markets[m.ID] = m
	}
	for _, p := range r.Positions {
		s.positions[positionKey{p.MarketID, p.Owner}] = p
	}
	for who, bal := range r.Balances {
		s.balances[who] = bal
	}
}

// walFile is the part of *os.File the write-ahead log uses.
type walFile interface {
	io.WriteSeeker
	Sync() error
	Truncate(size int64) error
	Close() error
}

// Ledger is a domain.Ledger held in memory. Update calls are serialized;
// View calls run concurrently with each other.
type Ledger struct {
	mu     sync.RWMutex
	state  *state
	seq    uint64
	wal    walFile
	walEnd int64 // offset after the last acknowledged record
	broken error // set when a failed append could not be rolled back
}

var _ domain.Ledger = (*Ledger)(nil)

// New returns an empty ledger without durability, for tests and dry runs.
func New() *Ledger {
	return &Ledger{state: newState()}
}

// Open loads the ledger from the write-ahead log at path, creating it if
// missing. A torn final record left by a crash mid-append is truncated.
func Open(path string) (*Ledger, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("memory: open wal: %w", err)
	}

	l := &Ledger{state: newState(), wal: f}
	good, err := l.replay(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Truncate(good); err != nil {
		f.Close()
		return nil, fmt.Errorf("memory: truncate wal: %w", err)
	}
	if _, err := f.Seek(good, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("memory: seek wal: %w", err)
	}
	l.walEnd = good
	return l, nil
}

// replay applies every complete record and returns the offset after the
// last one.
func (l *Ledger) replay(r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	var offset int64
	for {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// Anything without a trailing newline was never acknowledged.
			return offset, nil
		}
		if err != nil {
			return 0, fmt.Errorf("memory: read wal: %w", err)
		}

		var rec record
		if err := json.Unmarshal(bytes.TrimSpace(line), &rec); err != nil {
			return 0, fmt.Errorf("memory: decode wal record at offset %d: %w", offset, err)
		}
		if rec.Seq != l.seq+1 {
			return 0, fmt.Errorf("memory: wal sequence gap at offset %d: got %d, want %d", offset, rec.Seq, l.seq+1)
		}
		l.state.apply(rec)
		l.seq = rec.Seq
		offset += int64(len(line))
	}
}

// Update runs fn in a write transaction.
func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broken != nil {
		return fmt.Errorf("memory: ledger is read-only after wal failure: %w", l.broken)
	}

	t := newTx(l.state, false)
	if err := fn(ctx, t); err != nil {
		return err
	}
	if t.empty() {
		return nil
	}

	rec := t.record(l.seq + 1)
	if l.wal != nil {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("memory: encode wal record: %w", err)
		}
		if err := l.append(append(line, '\n')); err != nil {
			return err
		}
	}
	l.state.apply(rec)
	l.seq = rec.Seq
	return nil
}

// append writes one record and fsyncs it. On failure the log is cut back to
// the last acknowledged record so a partial line never precedes later
// appends; if that fails too the ledger stops accepting writes.
func (l *Ledger) append(line []byte) error {
	_, err := l.wal.Write(line)
	if err != nil {
		err = fmt.Errorf("memory: append wal: %w", err)
	} else if serr := l.wal.Sync(); serr != nil {
		err = fmt.Errorf("memory: sync wal: %w", serr)
	}
	if err == nil {
		l.walEnd += int64(len(line))
		return nil
	}

	if terr := l.wal.Truncate(l.walEnd); terr != nil {
		l.broken = terr
		return errors.Join(err, fmt.Errorf("memory: truncate wal: %w", terr))
	}
	if _, serr := l.wal.Seek(l.walEnd, io.SeekStart); serr != nil {
		l.broken = serr
		return errors.Join(err, fmt.Errorf("memory: seek wal: %w", serr))
	}
	return err
}

// View runs fn in a read-only transaction.
func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(ctx, newTx(l.state, true))
}

// Seq returns the sequence number of the last committed transaction.
func (l *Ledger) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Close releases the write-ahead log.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.wal == nil {
		return nil
	}
	err := l.wal.Close()
	l.wal = nil
	return err
}
