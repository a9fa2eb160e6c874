package betdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/vctt94/betvault/betpool"
	bolt "go.etcd.io/bbolt"
)

var (
	poolsBucket   = []byte("pools")
	matchesBucket = []byte("matches") // matchID -> poolID
	betsBucket    = []byte("bets")    // sub-bucket per poolID, betID -> json
)

type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (creating if needed) the bolt database at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{poolsBucket, matchesBucket, betsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (s *BoltDB) Close() error { return s.db.Close() }

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func poolFrom(b *bolt.Bucket, id uuid.UUID) (*betpool.Pool, error) {
	raw := b.Get(id[:])
	if raw == nil {
		return nil, ErrPoolNotFound
	}
	var p betpool.Pool
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("corrupt pool %s: %w", id, err)
	}
	if p.SideA < 0 || p.SideB < 0 || p.Fees < 0 {
		return nil, fmt.Errorf("corrupt pool %s: negative totals", id)
	}
	return &p, nil
}

func betFrom(raw []byte) (*betpool.Bet, error) {
	var b betpool.Bet
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("corrupt bet row: %w", err)
	}
	if err := b.Check(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BoltDB) CreatePool(ctx context.Context, p *betpool.Pool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		matches := tx.Bucket(matchesBucket)
		if matches.Get([]byte(p.MatchID)) != nil {
			return ErrDuplicatePool
		}
		if err := matches.Put([]byte(p.MatchID), p.ID[:]); err != nil {
			return err
		}
		if _, err := tx.Bucket(betsBucket).CreateBucketIfNotExists(p.ID[:]); err != nil {
			return err
		}
		return putJSON(tx.Bucket(poolsBucket), p.ID[:], p)
	})
}

func (s *BoltDB) Pool(ctx context.Context, id uuid.UUID) (*betpool.Pool, error) {
	var p *betpool.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		p, err = poolFrom(tx.Bucket(poolsBucket), id)
		return err
	})
	return p, err
}

func (s *BoltDB) PoolByMatch(ctx context.Context, matchID string) (*betpool.Pool, error) {
	var p *betpool.Pool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(matchesBucket).Get([]byte(matchID))
		if raw == nil {
			return ErrPoolNotFound
		}
		id, err := uuid.FromBytes(raw)
		if err != nil {
			return fmt.Errorf("corrupt match index %q: %w", matchID, err)
		}
		p, err = poolFrom(tx.Bucket(poolsBucket), id)
		return err
	})
	return p, err
}

// TransitionPool performs the conditional status update: the write happens
// only when the stored status still equals from, all inside one bolt
// transaction. A concurrent resolver losing this race gets
// ErrStatusConflict and must treat the pool as handled.
func (s *BoltDB) TransitionPool(ctx context.Context, id uuid.UUID, from, to betpool.PoolStatus,
	winner betpool.Side) (*betpool.Pool, error) {

	var p *betpool.Pool
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		p, err = poolFrom(tx.Bucket(poolsBucket), id)
		if err != nil {
			return err
		}
		if p.Status != from {
			return fmt.Errorf("pool %s is %s, expected %s: %w",
				id, p.Status, from, ErrStatusConflict)
		}
		if err := p.Transition(to, winner); err != nil {
			return err
		}
		return putJSON(tx.Bucket(poolsBucket), id[:], p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *BoltDB) CreateBet(ctx context.Context, b *betpool.Bet) error {
	if err := b.Check(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(betsBucket).Bucket(b.PoolID[:])
		if pb == nil {
			return ErrPoolNotFound
		}
		if pb.Get(b.ID[:]) != nil {
			return fmt.Errorf("bet %s already stored", b.ID)
		}
		return putJSON(pb, b.ID[:], b)
	})
}

func (s *BoltDB) ConfirmBet(ctx context.Context, poolID, betID uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(betsBucket).Bucket(poolID[:])
		if pb == nil {
			return ErrPoolNotFound
		}
		raw := pb.Get(betID[:])
		if raw == nil {
			return ErrBetNotFound
		}
		b, err := betFrom(raw)
		if err != nil {
			return err
		}
		if b.Status != betpool.BetPending {
			return fmt.Errorf("bet %s is %s, cannot confirm", betID, b.Status)
		}

		p, err := poolFrom(tx.Bucket(poolsBucket), poolID)
		if err != nil {
			return err
		}
		if err := p.AddStake(b.Side, b.Net, b.Fee); err != nil {
			return err
		}

		b.Status = betpool.BetConfirmed
		if err := putJSON(pb, betID[:], b); err != nil {
			return err
		}
		return putJSON(tx.Bucket(poolsBucket), poolID[:], p)
	})
}

func (s *BoltDB) BetsByStatus(ctx context.Context, poolID uuid.UUID,
	status betpool.BetStatus) ([]*betpool.Bet, error) {

	var out []*betpool.Bet
	err := s.db.View(func(tx *bolt.Tx) error {
		pb := tx.Bucket(betsBucket).Bucket(poolID[:])
		if pb == nil {
			return ErrPoolNotFound
		}
		return pb.ForEach(func(_, raw []byte) error {
			b, err := betFrom(raw)
			if err != nil {
				return err
			}
			if b.Status == status {
				out = append(out, b)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltDB) SettleBet(ctx context.Context, poolID, betID uuid.UUID,
	status betpool.BetStatus, payoutAtoms int64, txid string) error {

	return s.db.Update(func(tx *bolt.Tx) error {
		pb := tx.Bucket(betsBucket).Bucket(poolID[:])
		if pb == nil {
			return ErrPoolNotFound
		}
		raw := pb.Get(betID[:])
		if raw == nil {
			return ErrBetNotFound
		}
		b, err := betFrom(raw)
		if err != nil {
			return err
		}
		if b.Status.Terminal() {
			// Reconciliation only fills in the missing txid; the
			// terminal status and payout are already final.
			if b.Status != status || b.Payout != payoutAtoms {
				return fmt.Errorf("bet %s already settled as %s/%d",
					betID, b.Status, b.Payout)
			}
			if b.SettleTxID != "" {
				return nil
			}
		} else if err := b.Settle(status, payoutAtoms); err != nil {
			return err
		}
		b.SettleTxID = txid
		return putJSON(pb, betID[:], b)
	})
}

func (s *BoltDB) UnsettledBets(ctx context.Context, poolID uuid.UUID) ([]*betpool.Bet, error) {
	var out []*betpool.Bet
	err := s.db.View(func(tx *bolt.Tx) error {
		pb := tx.Bucket(betsBucket).Bucket(poolID[:])
		if pb == nil {
			return ErrPoolNotFound
		}
		return pb.ForEach(func(_, raw []byte) error {
			b, err := betFrom(raw)
			if err != nil {
				return err
			}
			if b.Status.Terminal() && b.Payout > 0 && b.SettleTxID == "" {
				out = append(out, b)
			}
			return nil
		})
	})
	return out, err
}
