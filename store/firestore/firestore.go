/*
Package firestore stores pools as Firestore documents.

PURPOSE:
  One document per pool in the "pools" collection, keyed by pool id.
  Money is stored as decimal strings because Firestore has no decimal type
  and float64 would lose cents.

ATOMIC UPDATE:
  Update runs inside RunTransaction. Firestore retries the transaction
  function itself on contention, so fn may run more than once; it always
  starts from a freshly read document.

USAGE:
  s, err := firestore.Open(ctx, "my-project", "./service-account.json")
  // or, against the emulator (FIRESTORE_EMULATOR_HOST set):
  client, _ := gfs.NewClient(ctx, "demo-project")
  s := firestore.New(client)
*/
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gfs "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/warp/rosca-engine/rosca"
)

const Collection = "pools"

type Store struct {
	client     *gfs.Client
	collection string
}

// Open initializes the Firebase Admin SDK and returns a store on its
// Firestore client. An empty credPath uses application default credentials.
func Open(ctx context.Context, projectID, credPath string) (*Store, error) {
	var opts []option.ClientOption
	if credPath != "" {
		opts = append(opts, option.WithCredentialsFile(credPath))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	slog.Info("firestore connection established", "project", projectID)
	return New(client), nil
}

func New(client *gfs.Client) *Store {
	return &Store{client: client, collection: Collection}
}

// WithCollection returns a store writing to another collection.
// Tests use it to isolate runs against a shared emulator.
func (s *Store) WithCollection(name string) *Store {
	return &Store{client: s.client, collection: name}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) doc(id rosca.PoolID) *gfs.DocumentRef {
	return s.client.Collection(s.collection).Doc(string(id))
}

func (s *Store) Create(ctx context.Context, pool *rosca.Pool) error {
	_, err := s.doc(pool.ID).Create(ctx, toDoc(pool, 1))
	if status.Code(err) == codes.AlreadyExists {
		return rosca.ErrPoolExists
	}
	if err != nil {
		return fmt.Errorf("firestore create: %w", err)
	}
	pool.Version = 1
	return nil
}

func (s *Store) Get(ctx context.Context, id rosca.PoolID) (*rosca.Pool, error) {
	snap, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, rosca.ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore get: %w", err)
	}
	return decodeSnapshot(snap)
}

func (s *Store) List(ctx context.Context) ([]*rosca.Pool, error) {
	iter := s.client.Collection(s.collection).OrderBy("created_at", gfs.Asc).Documents(ctx)
	defer iter.Stop()

	pools := []*rosca.Pool{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list: %w", err)
		}
		pool, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func (s *Store) Update(ctx context.Context, id rosca.PoolID, fn func(*rosca.Pool) error) (*rosca.Pool, error) {
	ref := s.doc(id)
	var out *rosca.Pool

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gfs.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return rosca.ErrPoolNotFound
		}
		if err != nil {
			return err
		}
		pool, err := decodeSnapshot(snap)
		if err != nil {
			return err
		}

		version := pool.Version
		if err := fn(pool); err != nil {
			return err
		}
		pool.ID = id
		pool.Version = version + 1
		if err := tx.Set(ref, toDoc(pool, pool.Version)); err != nil {
			return err
		}
		out = pool
		return nil
	})
	if status.Code(err) == codes.Aborted {
		return nil, fmt.Errorf("%w: %v", rosca.ErrConcurrentModification, err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id rosca.PoolID) error {
	_, err := s.doc(id).Delete(ctx, gfs.Exists)
	if status.Code(err) == codes.NotFound {
		return rosca.ErrPoolNotFound
	}
	if err != nil {
		return fmt.Errorf("firestore delete: %w", err)
	}
	return nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type poolDoc struct {
	Name               string           `firestore:"name"`
	CreatedBy          string           `firestore:"created_by"`
	Status             string           `firestore:"status"`
	ContributionAmount string           `firestore:"contribution_amount"`
	MemberLimit        int              `firestore:"member_limit"`
	Frequency          string           `firestore:"frequency"`
	RotationMode       string           `firestore:"rotation_mode"`
	RotationOrder      []int            `firestore:"rotation_order"`
	StartDate          time.Time        `firestore:"start_date"`
	CurrentPeriod      int              `firestore:"current_period"`
	Participants       []participantDoc `firestore:"participants"`
	Periods            []periodDoc      `firestore:"periods"`
	CreatedAt          time.Time        `firestore:"created_at"`
	UpdatedAt          time.Time        `firestore:"updated_at"`
	Version            int64            `firestore:"version"`
}

type participantDoc struct {
	UserID   string    `firestore:"user_id"`
	Name     string    `firestore:"name"`
	JoinedAt time.Time `firestore:"joined_at"`
}

type periodDoc struct {
	Index          int               `firestore:"period_index"`
	DueDate        time.Time         `firestore:"due_date"`
	PayoutDate     time.Time         `firestore:"payout_date"`
	PayoutTo       string            `firestore:"payout_to"`
	PayoutAmount   string            `firestore:"payout_amount"`
	Contributions  []contributionDoc `firestore:"contributions"`
	PayoutComplete bool              `firestore:"payout_complete"`
}

type contributionDoc struct {
	MemberID   string    `firestore:"member_id"`
	AmountPaid string    `firestore:"amount_paid"`
	PaidAt     time.Time `firestore:"paid_at"`
}

func toDoc(p *rosca.Pool, version int64) poolDoc {
	doc := poolDoc{
		Name:               p.Name,
		CreatedBy:          string(p.CreatedBy),
		Status:             string(p.Status),
		ContributionAmount: p.Config.ContributionAmount.String(),
		MemberLimit:        p.Config.MemberLimit,
		Frequency:          string(p.Config.Frequency),
		RotationMode:       string(p.Config.RotationMode),
		RotationOrder:      p.Config.RotationOrder,
		StartDate:          p.Config.StartDate,
		CurrentPeriod:      p.Config.CurrentPeriod,
		Participants:       make([]participantDoc, len(p.Participants)),
		Periods:            make([]periodDoc, len(p.Config.Periods)),
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
		Version:            version,
	}
	for i, part := range p.Participants {
		doc.Participants[i] = participantDoc{UserID: string(part.UserID), Name: part.Name, JoinedAt: part.JoinedAt}
	}
	for i, period := range p.Config.Periods {
		pd := periodDoc{
			Index:          period.Index,
			DueDate:        period.DueDate,
			PayoutDate:     period.PayoutDate,
			PayoutTo:       string(period.PayoutTo),
			PayoutAmount:   period.PayoutAmount.String(),
			Contributions:  make([]contributionDoc, len(period.Contributions)),
			PayoutComplete: period.PayoutComplete,
		}
		for j, c := range period.Contributions {
			pd.Contributions[j] = contributionDoc{
				MemberID:   string(c.MemberID),
				AmountPaid: c.AmountPaid.String(),
				PaidAt:     c.PaidAt,
			}
		}
		doc.Periods[i] = pd
	}
	return doc
}

func fromDoc(id string, doc poolDoc) (*rosca.Pool, error) {
	amount, err := decimal.NewFromString(doc.ContributionAmount)
	if err != nil {
		return nil, fmt.Errorf("pool %s: bad contribution amount %q: %w", id, doc.ContributionAmount, err)
	}
	p := &rosca.Pool{
		ID:           rosca.PoolID(id),
		Name:         doc.Name,
		CreatedBy:    rosca.MemberID(doc.CreatedBy),
		Status:       rosca.PoolStatus(doc.Status),
		Participants: make([]rosca.Participant, len(doc.Participants)),
		Config: rosca.Config{
			ContributionAmount: amount,
			MemberLimit:        doc.MemberLimit,
			Frequency:          rosca.Frequency(doc.Frequency),
			RotationMode:       rosca.RotationMode(doc.RotationMode),
			StartDate:          doc.StartDate.UTC(),
			CurrentPeriod:      doc.CurrentPeriod,
			Periods:            make([]rosca.Period, len(doc.Periods)),
		},
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
		Version:   doc.Version,
	}
	if len(doc.RotationOrder) > 0 {
		p.Config.RotationOrder = append([]int(nil), doc.RotationOrder...)
	}
	for i, part := range doc.Participants {
		p.Participants[i] = rosca.Participant{
			UserID:   rosca.MemberID(part.UserID),
			Name:     part.Name,
			JoinedAt: part.JoinedAt.UTC(),
		}
	}
	for i, pd := range doc.Periods {
		payout, err := decimal.NewFromString(pd.PayoutAmount)
		if err != nil {
			return nil, fmt.Errorf("pool %s period %d: bad payout amount: %w", id, pd.Index, err)
		}
		period := rosca.Period{
			Index:          pd.Index,
			DueDate:        pd.DueDate.UTC(),
			PayoutDate:     pd.PayoutDate.UTC(),
			PayoutTo:       rosca.MemberID(pd.PayoutTo),
			PayoutAmount:   payout,
			Contributions:  make([]rosca.Contribution, len(pd.Contributions)),
			PayoutComplete: pd.PayoutComplete,
		}
		for j, c := range pd.Contributions {
			paid, err := decimal.NewFromString(c.AmountPaid)
			if err != nil {
				return nil, fmt.Errorf("pool %s period %d: bad contribution: %w", id, pd.Index, err)
			}
			period.Contributions[j] = rosca.Contribution{
				MemberID:   rosca.MemberID(c.MemberID),
				AmountPaid: paid,
				PaidAt:     c.PaidAt.UTC(),
			}
		}
		p.Config.Periods[i] = period
	}
	return p, nil
}

func decodeSnapshot(snap *gfs.DocumentSnapshot) (*rosca.Pool, error) {
	var doc poolDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore decode %s: %w", snap.Ref.ID, err)
	}
	return fromDoc(snap.Ref.ID, doc)
}
