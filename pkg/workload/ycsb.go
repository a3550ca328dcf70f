// This file implements YCSB's core workload profile (a configurable
// mix of read/update/read-modify-write operations over zipfian-
// skewed keys within one transaction), grounded on
// benchmarks/ycsb/include/tx.hpp.
package workload

import (
	"math"

	"github.com/bobboyms/txcore/pkg/record"
	"github.com/bobboyms/txcore/pkg/txn"
	"github.com/bobboyms/txcore/pkg/types"
)

// YCSBRow is YCSB's single-field payload record, primary key a plain
// Key (no composite packing needed).
type YCSBRow struct {
	Payload string `bson:"p"`
}

// YCSBMix gives each operation's selection probability within a
// transaction, as percentages summing to 100 (tx.hpp's r/u/rmw
// proportions).
type YCSBMix struct {
	ReadPct             int
	UpdatePct           int
	ReadModifyWritePct  int
}

// YCSBInput is one YCSB transaction's generated input: the zipfian-
// sampled keys it will touch, one per repetition.
type YCSBInput struct {
	Keys []types.Key
}

// Zipf draws YCSB keys from a Zipfian distribution over
// [0, numRecords), using the Gray et al. fast approximation
// zipf.hpp's FastZipf implements (theta in [0, 1); 0 is uniform,
// approaching 1 concentrates access on the lowest keys).
type Zipf struct {
	g         *Rand
	nr        uint64
	alpha     float64
	zetan     float64
	eta       float64
	threshold float64
}

// NewZipf builds a Zipfian key generator over numRecords records with
// the given skew.
func NewZipf(g *Rand, theta float64, numRecords uint64) *Zipf {
	zetan := zeta(numRecords, theta)
	zeta2 := zeta(2, theta)
	return &Zipf{
		g:         g,
		nr:        numRecords,
		alpha:     1.0 / (1.0 - theta),
		zetan:     zetan,
		eta:       (1.0 - math.Pow(2.0/float64(numRecords), 1.0-theta)) / (1.0 - zeta2/zetan),
		threshold: 1.0 + math.Pow(0.5, theta),
	}
}

func zeta(nr uint64, theta float64) float64 {
	var sum float64
	for i := uint64(0); i < nr; i++ {
		sum += math.Pow(1.0/float64(i+1), theta)
	}
	return sum
}

// Next draws one key in [0, numRecords).
func (z *Zipf) Next() types.Key {
	u := z.g.r.Float64()
	uz := u * z.zetan
	switch {
	case uz < 1.0:
		return 0
	case uz < z.threshold:
		return 1
	default:
		return types.Key(float64(z.nr) * math.Pow(z.eta*u-z.eta+1.0, z.alpha))
	}
}

// GenerateYCSBInput draws reps keys from z.
func GenerateYCSBInput(z *Zipf, reps int) YCSBInput {
	keys := make([]types.Key, reps)
	for i := range keys {
		keys[i] = z.Next()
	}
	return YCSBInput{Keys: keys}
}

// YCSBTx runs one YCSB core-workload transaction via f's retry driver:
// for each key in in.Keys, it rolls the operation mix and performs a
// read, a blind update, or a read-modify-write, per tx.hpp.
func YCSBTx(f *txn.Facade, worker types.WorkerID, g *Rand, in YCSBInput, mix YCSBMix, payloadSize int) (bool, error) {
	return f.Run(worker, func(tx txn.Handle) error {
		for _, key := range in.Keys {
			roll := g.Int(1, 100)
			switch {
			case roll <= mix.ReadPct:
				if _, _, err := tx.Read(TableYCSB, key); err != nil {
					return err
				}
			case roll <= mix.ReadPct+mix.UpdatePct:
				buf, err := tx.Update(TableYCSB, key)
				if err != nil {
					return err
				}
				if err := record.Encode(buf, &YCSBRow{Payload: g.AString(payloadSize, payloadSize)}); err != nil {
					return err
				}
			default:
				rec, found, err := tx.Read(TableYCSB, key)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				var row YCSBRow
				if err := record.Decode(rec, &row); err != nil {
					return err
				}
				buf, err := tx.Update(TableYCSB, key)
				if err != nil {
					return err
				}
				if err := record.Encode(buf, &row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LoadYCSBRow inserts one initial YCSB row during data load.
func LoadYCSBRow(tx txn.Handle, key types.Key, payload string) error {
	buf, err := tx.Insert(TableYCSB, key)
	if err != nil {
		return err
	}
	return record.Encode(buf, &YCSBRow{Payload: payload})
}
