package procurement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dcops/internal/reconcile"
	"github.com/odyssey-erp/dcops/internal/shared"
)

type memoryProcState struct {
	pos     map[int64]PurchaseOrder
	poLines map[int64][]POLine
	grns    map[int64]GoodsReceipt
	lines   []ReceiptLine
	batches []ReceiptBatch
	photos  []ReceiptPhoto
	nextID  int64
}

func (s memoryProcState) clone() memoryProcState {
	out := memoryProcState{
		pos:     make(map[int64]PurchaseOrder, len(s.pos)),
		poLines: make(map[int64][]POLine, len(s.poLines)),
		grns:    make(map[int64]GoodsReceipt, len(s.grns)),
		lines:   append([]ReceiptLine(nil), s.lines...),
		batches: append([]ReceiptBatch(nil), s.batches...),
		photos:  append([]ReceiptPhoto(nil), s.photos...),
		nextID:  s.nextID,
	}
	for k, v := range s.pos {
		out.pos[k] = v
	}
	for k, v := range s.poLines {
		out.poLines[k] = append([]POLine(nil), v...)
	}
	for k, v := range s.grns {
		out.grns[k] = v
	}
	return out
}

// memoryProcRepo applies a transaction only when fn succeeds and runs one
// transaction at a time, like the row lock in the PostgreSQL repository.
type memoryProcRepo struct {
	mu       sync.Mutex
	state    memoryProcState
	failLine string
}

type memoryProcTx struct {
	repo  *memoryProcRepo
	state *memoryProcState
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{state: memoryProcState{
		pos:     make(map[int64]PurchaseOrder),
		poLines: make(map[int64][]POLine),
		grns:    make(map[int64]GoodsReceipt),
	}}
}

func (r *memoryProcRepo) addPO(po PurchaseOrder, lines ...POLine) PurchaseOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.nextID++
	po.ID = r.state.nextID
	if po.Status == "" {
		po.Status = POStatusApproved
	}
	r.state.pos[po.ID] = po
	for _, l := range lines {
		l.POID = po.ID
		r.state.poLines[po.ID] = append(r.state.poLines[po.ID], l)
	}
	return po
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	staged := r.state.clone()
	if err := fn(ctx, &memoryProcTx{repo: r, state: &staged}); err != nil {
		return err
	}
	r.state = staged
	return nil
}

func (r *memoryProcRepo) snapshot() memoryProcState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

func (r *memoryProcRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return getMemoryPO(r.snapshot(), id)
}

func (r *memoryProcRepo) CountGoodsReceipts(ctx context.Context, poID int64) (int, error) {
	return countMemoryGRNs(r.snapshot(), poID), nil
}

func (r *memoryProcRepo) ListReceiptLines(ctx context.Context, poID int64) ([]ReceiptLine, error) {
	return memoryLinesForPO(r.snapshot(), poID), nil
}

func (r *memoryProcRepo) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceiptDetail, error) {
	st := r.snapshot()
	grn, ok := st.grns[id]
	if !ok {
		return GoodsReceiptDetail{}, ErrNotFound
	}
	detail := GoodsReceiptDetail{GoodsReceipt: grn}
	for _, l := range st.lines {
		if l.GRNID != id {
			continue
		}
		d := ReceiptLineDetail{ReceiptLine: l}
		for _, b := range st.batches {
			if b.LineID == l.ID {
				d.Batches = append(d.Batches, b)
			}
		}
		detail.Lines = append(detail.Lines, d)
	}
	for _, p := range st.photos {
		if p.GRNID == id {
			detail.Photos = append(detail.Photos, p)
		}
	}
	return detail, nil
}

func (r *memoryProcRepo) ListOpenPOIDs(ctx context.Context) ([]int64, error) {
	st := r.snapshot()
	var ids []int64
	for id, po := range st.pos {
		if po.Status == POStatusApproved {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func getMemoryPO(st memoryProcState, id int64) (PurchaseOrder, []POLine, error) {
	po, ok := st.pos[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, append([]POLine(nil), st.poLines[id]...), nil
}

func countMemoryGRNs(st memoryProcState, poID int64) int {
	count := 0
	for _, g := range st.grns {
		if g.POID == poID {
			count++
		}
	}
	return count
}

func memoryLinesForPO(st memoryProcState, poID int64) []ReceiptLine {
	var out []ReceiptLine
	for _, l := range st.lines {
		if st.grns[l.GRNID].POID == poID {
			out = append(out, l)
		}
	}
	return out
}

func (tx *memoryProcTx) nextID() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryProcTx) LockPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return getMemoryPO(*tx.state, id)
}

func (tx *memoryProcTx) CountGoodsReceipts(ctx context.Context, poID int64) (int, error) {
	return countMemoryGRNs(*tx.state, poID), nil
}

func (tx *memoryProcTx) ListReceiptLines(ctx context.Context, poID int64) ([]ReceiptLine, error) {
	return memoryLinesForPO(*tx.state, poID), nil
}

func (tx *memoryProcTx) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	for _, existing := range tx.state.grns {
		if existing.Number == grn.Number {
			return 0, ErrReceiptNumberTaken
		}
	}
	grn.ID = tx.nextID()
	tx.state.grns[grn.ID] = grn
	return grn.ID, nil
}

func (tx *memoryProcTx) InsertReceiptLine(ctx context.Context, line ReceiptLine) (int64, error) {
	if tx.repo.failLine != "" && line.SKU == tx.repo.failLine {
		return 0, errors.New("insert failed")
	}
	line.ID = tx.nextID()
	tx.state.lines = append(tx.state.lines, line)
	return line.ID, nil
}

func (tx *memoryProcTx) InsertReceiptBatch(ctx context.Context, batch ReceiptBatch) error {
	batch.ID = tx.nextID()
	tx.state.batches = append(tx.state.batches, batch)
	return nil
}

func (tx *memoryProcTx) InsertReceiptPhoto(ctx context.Context, photo ReceiptPhoto) error {
	photo.ID = tx.nextID()
	tx.state.photos = append(tx.state.photos, photo)
	return nil
}

func (tx *memoryProcTx) GetGRNForUpdate(ctx context.Context, id int64) (GoodsReceipt, error) {
	grn, ok := tx.state.grns[id]
	if !ok {
		return GoodsReceipt{}, ErrNotFound
	}
	return grn, nil
}

func (tx *memoryProcTx) UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error {
	grn := tx.state.grns[id]
	grn.Status = status
	tx.state.grns[id] = grn
	return nil
}

func (tx *memoryProcTx) UpdatePOReceiptStatus(ctx context.Context, poID int64, status string) error {
	po := tx.state.pos[poID]
	po.ReceiptStatus = status
	tx.state.pos[poID] = po
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}

func twoSKUOrder(repo *memoryProcRepo, single bool) PurchaseOrder {
	return repo.addPO(PurchaseOrder{Number: "PO-1", FCID: 3, TotalAmount: decimal.NewFromInt(1000), SingleReceipt: single},
		POLine{SKU: "SKU-A", Qty: 10, UnitPrice: decimal.NewFromInt(50)},
		POLine{SKU: "SKU-B", Qty: 5, UnitPrice: decimal.NewFromInt(100)},
	)
}

func TestReceivingFlowAcrossPartialEvents(t *testing.T) {
	repo := newMemoryProcRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, audit, nil, nil)
	ctx := context.Background()
	scope := shared.Scope{ActorID: 7, FCID: 3}
	po := twoSKUOrder(repo, false)

	view, err := svc.OrderReceiptStatus(ctx, scope, po.ID, "")
	require.NoError(t, err)
	require.False(t, view.HasReceipt)
	require.Equal(t, "approved", view.Status)

	grn, err := svc.CreateGoodsReceipt(ctx, scope, CreateGRNInput{
		POID: po.ID,
		Lines: []GRNLineInput{
			{SKU: "SKU-A", Received: 6, QCPass: 6, Batches: []BatchInput{{BatchNumber: "L1", Qty: 4}, {BatchNumber: "L2", Qty: 2}}},
		},
		Photos: []PhotoInput{{SKU: "SKU-A", ObjectKey: "grn/1/a.jpg"}},
	})
	require.NoError(t, err)
	require.NotZero(t, grn.ID)
	require.Equal(t, GRNStatusPending, grn.Status)
	require.Len(t, grn.Lines, 1)
	require.Equal(t, int64(4), grn.Lines[0].Pending)
	require.Equal(t, reconcile.LinePartial, grn.Lines[0].Status)

	view, err = svc.OrderReceiptStatus(ctx, scope, po.ID, "")
	require.NoError(t, err)
	require.True(t, view.HasReceipt)
	require.Equal(t, "partial", view.Status)
	require.Equal(t, "partial", repo.snapshot().pos[po.ID].ReceiptStatus)

	_, err = svc.CreateGoodsReceipt(ctx, scope, CreateGRNInput{
		POID: po.ID,
		Lines: []GRNLineInput{
			{SKU: "SKU-A", Received: 4, QCPass: 4},
			{SKU: "SKU-B", Received: 5, QCPass: 5},
		},
	})
	require.NoError(t, err)

	view, err = svc.OrderReceiptStatus(ctx, scope, po.ID, "")
	require.NoError(t, err)
	require.Equal(t, "completed", view.Status)
	require.Equal(t, 2, view.ReceiptEvents)
	require.Len(t, view.Lines, 2)
	require.Equal(t, int64(10), view.Lines[0].Received)

	view, err = svc.OrderReceiptStatus(ctx, scope, po.ID, "approved")
	require.NoError(t, err)
	require.Equal(t, "approved", view.Status)
	require.Equal(t, "completed", view.ComputedStatus)

	detail, err := svc.GetGoodsReceipt(ctx, scope, grn.ID)
	require.NoError(t, err)
	require.Len(t, detail.Lines[0].Batches, 2)
	require.Len(t, detail.Photos, 1)
	require.Equal(t, []string{"GRN_CREATE", "GRN_CREATE"}, audit.actions)
}

func TestOrderReceiptStatusIsRecomputedOnEveryCall(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	po := twoSKUOrder(repo, false)

	_, err := svc.CreateGoodsReceipt(ctx, shared.Scope{}, CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{SKU: "SKU-A", Received: 10, QCPass: 10}}})
	require.NoError(t, err)

	first, err := svc.OrderReceiptStatus(ctx, shared.Scope{}, po.ID, "")
	require.NoError(t, err)
	second, err := svc.OrderReceiptStatus(ctx, shared.Scope{}, po.ID, "")
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = svc.CreateGoodsReceipt(ctx, shared.Scope{}, CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{SKU: "SKU-B", Received: 5, QCPass: 5}}})
	require.NoError(t, err)

	third, err := svc.OrderReceiptStatus(ctx, shared.Scope{}, po.ID, "")
	require.NoError(t, err)
	require.Equal(t, "partial", first.Status)
	require.Equal(t, "completed", third.Status)
}

func TestRejectedOrderWithoutReceipt(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, nil, nil, nil)
	po := repo.addPO(PurchaseOrder{Number: "PO-R", Status: POStatusRejected}, POLine{SKU: "S", Qty: 1})

	view, err := svc.OrderReceiptStatus(context.Background(), shared.Scope{}, po.ID, "")
	require.NoError(t, err)
	require.Equal(t, "rejected", view.Status)

	_, err = svc.CreateGoodsReceipt(context.Background(), shared.Scope{}, CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{SKU: "S", Received: 1}}})
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, err, shared.ErrConsistency)
}

func TestCreateGoodsReceiptValidation(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, nil, nil, nil)
	po := twoSKUOrder(repo, false)
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateGRNInput
	}{
		{"missing order", CreateGRNInput{Lines: []GRNLineInput{{SKU: "SKU-A", Received: 1}}}},
		{"no lines", CreateGRNInput{POID: po.ID}},
		{"missing sku", CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{Received: 1}}}},
		{"negative quantity", CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{SKU: "SKU-A", Received: -1}}}},
		{"rejection without comment", CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{SKU: "SKU-A", Received: 2, Rejected: 2}}}},
		{"batches do not sum", CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{SKU: "SKU-A", Received: 5, Batches: []BatchInput{{BatchNumber: "L1", Qty: 3}}}}}},
		{"duplicate sku", CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{SKU: "SKU-A", Received: 1}, {SKU: "SKU-A", Received: 1}}}},
		{"sku not on order", CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{SKU: "SKU-Z", Received: 1}}}},
		{"unknown manual status", CreateGRNInput{POID: po.ID, Status: "shipped", Lines: []GRNLineInput{{SKU: "SKU-A", Received: 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateGoodsReceipt(ctx, shared.Scope{}, tc.input)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	require.Empty(t, repo.snapshot().grns)
}

func TestCreateGoodsReceiptRollsBackOnLineFailure(t *testing.T) {
	repo := newMemoryProcRepo()
	repo.failLine = "SKU-B"
	svc := NewService(repo, nil, nil, nil)
	po := twoSKUOrder(repo, false)

	_, err := svc.CreateGoodsReceipt(context.Background(), shared.Scope{}, CreateGRNInput{
		POID:  po.ID,
		Lines: []GRNLineInput{{SKU: "SKU-A", Received: 1, QCPass: 1}, {SKU: "SKU-B", Received: 1}},
	})
	require.Error(t, err)

	st := repo.snapshot()
	require.Empty(t, st.grns)
	require.Empty(t, st.lines)
	require.Empty(t, st.pos[po.ID].ReceiptStatus)
}

func TestSingleReceiptOrderAllowsExactlyOneConcurrentEvent(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, nil, nil, nil)
	po := twoSKUOrder(repo, true)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateGoodsReceipt(context.Background(), shared.Scope{ActorID: 1}, CreateGRNInput{
				POID:  po.ID,
				Lines: []GRNLineInput{{SKU: "SKU-A", Received: 10, QCPass: 10}},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrConsistency):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflicts)
	require.Len(t, repo.snapshot().grns, 1)
}

func TestScopeHidesOtherFulfilmentCenters(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, nil, nil, nil)
	po := twoSKUOrder(repo, false)

	_, err := svc.OrderReceiptStatus(context.Background(), shared.Scope{FCID: 99}, po.ID, "")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.CreateGoodsReceipt(context.Background(), shared.Scope{FCID: 99}, CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{SKU: "SKU-A", Received: 1}}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestLineReconciliation(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, nil, nil, nil)
	po := twoSKUOrder(repo, false)
	ctx := context.Background()

	_, err := svc.CreateGoodsReceipt(ctx, shared.Scope{}, CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{
		{SKU: "SKU-A", Received: 10, Rejected: 10, RejectionComment: "crushed cartons"},
	}})
	require.NoError(t, err)
	_, err = svc.CreateGoodsReceipt(ctx, shared.Scope{}, CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{
		{SKU: "SKU-A", QCPass: 6},
	}})
	require.NoError(t, err)

	line, err := svc.LineReconciliation(ctx, shared.Scope{}, po.ID, "SKU-A")
	require.NoError(t, err)
	require.Equal(t, int64(10), line.RawRejected)
	require.Equal(t, int64(4), line.EffectiveRejected)
	require.Equal(t, reconcile.LinePartial, line.Status)

	_, err = svc.LineReconciliation(ctx, shared.Scope{}, po.ID, "SKU-Z")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSetGoodsReceiptStatusDoesNotChangeDerivedStatus(t *testing.T) {
	repo := newMemoryProcRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, audit, nil, nil)
	po := twoSKUOrder(repo, false)
	ctx := context.Background()

	grn, err := svc.CreateGoodsReceipt(ctx, shared.Scope{}, CreateGRNInput{POID: po.ID, Lines: []GRNLineInput{{SKU: "SKU-A", Received: 3}}})
	require.NoError(t, err)

	require.NoError(t, svc.SetGoodsReceiptStatus(ctx, shared.Scope{}, grn.ID, GRNStatusVarianceReview))
	require.ErrorIs(t, svc.SetGoodsReceiptStatus(ctx, shared.Scope{}, grn.ID, "archived"), shared.ErrValidation)
	require.ErrorIs(t, svc.SetGoodsReceiptStatus(ctx, shared.Scope{}, 999, GRNStatusClosed), shared.ErrNotFound)

	require.Equal(t, GRNStatusVarianceReview, repo.snapshot().grns[grn.ID].Status)
	view, err := svc.OrderReceiptStatus(ctx, shared.Scope{}, po.ID, "")
	require.NoError(t, err)
	require.Equal(t, "pending", view.Status)
	require.Contains(t, audit.actions, "GRN_STATUS")
}

func TestReceiptNumberCollisionIsNotADuplicateReceipt(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	first := twoSKUOrder(repo, true)
	second := twoSKUOrder(repo, true)

	grn, err := svc.CreateGoodsReceipt(ctx, shared.Scope{}, CreateGRNInput{POID: first.ID, Number: "GRN-DOCK-1", Lines: []GRNLineInput{{SKU: "SKU-A", Received: 1, QCPass: 1}}})
	require.NoError(t, err)
	require.Equal(t, "GRN-DOCK-1", grn.Number)

	_, err = svc.CreateGoodsReceipt(ctx, shared.Scope{}, CreateGRNInput{POID: second.ID, Number: "GRN-DOCK-1", Lines: []GRNLineInput{{SKU: "SKU-A", Received: 1, QCPass: 1}}})
	require.ErrorIs(t, err, ErrReceiptNumberTaken)
	require.NotErrorIs(t, err, ErrDuplicateReceipt)
	require.ErrorIs(t, err, shared.ErrConsistency)

	generated, err := svc.CreateGoodsReceipt(ctx, shared.Scope{}, CreateGRNInput{POID: second.ID, Lines: []GRNLineInput{{SKU: "SKU-A", Received: 1, QCPass: 1}}})
	require.NoError(t, err)
	require.Regexp(t, `^GRN-[0-9A-F]{8}$`, generated.Number)
}

func TestReindexOpenOrders(t *testing.T) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, nil, nil, nil)
	po := twoSKUOrder(repo, false)
	repo.addPO(PurchaseOrder{Number: "PO-DRAFT", FCID: 3, Status: POStatusDraft}, POLine{SKU: "SKU-A", Qty: 1})
	ctx := context.Background()

	repo.mu.Lock()
	stale := repo.state.pos[po.ID]
	stale.ReceiptStatus = "completed"
	repo.state.pos[po.ID] = stale
	repo.mu.Unlock()

	n, err := svc.ReindexOpenOrders(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "approved", repo.snapshot().pos[po.ID].ReceiptStatus)
}
