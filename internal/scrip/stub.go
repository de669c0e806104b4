// Package scrip provides the narrow ScripDirectory surface the core
// depends on. The real implementation — scrip-master ingestion,
// historical OHLC fetch from the broker's REST API — is explicitly
// out of scope (spec.md §5/§9); this in-memory stub lets the rest of
// the server run against a small, test-seeded instrument set.
package scrip

import (
	"fmt"
	"sync"
	"time"

	"github.com/tickwatch/alertserver/internal/model"
)

// Directory is a ScripDirectory backed by an in-memory map, seeded at
// construction time. Production deployments would replace this with
// an adapter over the broker's scrip-master and historical-data APIs.
type Directory struct {
	mu    sync.RWMutex
	byKey map[model.InstrumentKey]model.Instrument
	pdc   map[model.InstrumentKey]model.OHLC
}

// NewDirectory builds an empty Directory; use Seed to register
// instruments before serving traffic.
func NewDirectory() *Directory {
	return &Directory{
		byKey: make(map[model.InstrumentKey]model.Instrument),
		pdc:   make(map[model.InstrumentKey]model.OHLC),
	}
}

// Seed registers an instrument and its previous-day OHLC, as would
// otherwise arrive from an end-of-day batch job.
func (d *Directory) Seed(inst model.Instrument, pdc model.OHLC) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byKey[inst.Key] = inst
	d.pdc[inst.Key] = pdc
}

func (d *Directory) Lookup(key model.InstrumentKey) (model.Instrument, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	inst, ok := d.byKey[key]
	if !ok {
		return model.Instrument{}, fmt.Errorf("scrip: unknown instrument %s:%d", key.Exchange, key.Token)
	}
	return inst, nil
}

func (d *Directory) SearchByPrefix(exchange model.Exchange, prefix string) ([]model.Instrument, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []model.Instrument
	for _, inst := range d.byKey {
		if inst.Key.Exchange != exchange {
			continue
		}
		if len(prefix) == 0 || len(inst.Symbol) >= len(prefix) && inst.Symbol[:len(prefix)] == prefix {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (d *Directory) PreviousDayOHLC(key model.InstrumentKey, _ time.Time) (model.OHLC, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ohlc, ok := d.pdc[key]
	if !ok {
		return model.OHLC{}, fmt.Errorf("scrip: no previous-day OHLC for %s:%d", key.Exchange, key.Token)
	}
	return ohlc, nil
}
