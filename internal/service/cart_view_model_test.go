package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/auth"
	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
	"github.com/RoyceAzure/lab/cartsync/internal/event"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/backend"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/backend/backendtest"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/storage"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestNewCartSource_SelectsByCookie(t *testing.T) {
	bus := event.NewBus()
	fake := backendtest.NewFakeBackend()
	defer fake.Close()
	remote := NewRemoteCartService(backend.NewClient(fake.URL), bus)
	defer remote.Close(context.Background())

	local := func() CartSource {
		return NewLocalCartSource(NewLocalCartService(storage.NewMemoryStorage(), bus, "guest:g1"))
	}
	remoteFactory := func(token string) CartSource {
		return NewRemoteCartSource(remote, NewSession(token))
	}

	testCases := []struct {
		name    string
		cookies []*http.Cookie
		want    model.SourceKind
	}{
		{name: "no cookie", want: model.SourceLocal},
		{name: "token", cookies: []*http.Cookie{{Name: "token", Value: "abc"}}, want: model.SourceRemote},
		{name: "jwt", cookies: []*http.Cookie{{Name: "jwt", Value: "abc"}}, want: model.SourceRemote},
		{name: "empty token", cookies: []*http.Cookie{{Name: "accessToken", Value: ""}}, want: model.SourceLocal},
		{name: "unrelated cookie", cookies: []*http.Cookie{{Name: "session", Value: "abc"}}, want: model.SourceLocal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for _, c := range tc.cookies {
				req.AddCookie(c)
			}
			src := NewCartSource(auth.NewAuthState(req), local, remoteFactory)
			assert.Equal(t, tc.want, src.Kind())
		})
	}
}

func TestLocalSource_SignInRequired(t *testing.T) {
	ctx := context.Background()
	src := NewLocalCartSource(NewLocalCartService(storage.NewMemoryStorage(), event.NewBus(), "guest:g1"))
	vm := NewCartViewModel(src)

	_, err := vm.ApplyPromo(ctx, "SPRING10")
	assert.True(t, errors.Is(err, apperr.ErrSignInRequired))
	_, err = vm.RemovePromo(ctx)
	assert.True(t, errors.Is(err, apperr.ErrSignInRequired))
	_, err = vm.WalletBalance(ctx)
	assert.True(t, errors.Is(err, apperr.ErrSignInRequired))
	_, err = vm.Checkout(ctx, model.PaymentRequest{Method: model.PaymentOnline})
	assert.True(t, errors.Is(err, apperr.ErrSignInRequired))
}

func TestLocalView(t *testing.T) {
	ctx := context.Background()
	vm := NewCartViewModel(NewLocalCartSource(NewLocalCartService(storage.NewMemoryStorage(), event.NewBus(), "guest:g1")))

	view, err := vm.AddItem(ctx, serum, 2)
	require.NoError(t, err)
	assert.Equal(t, model.SourceLocal, view.Source)
	assert.Equal(t, 2, view.ItemCount)
	assert.InDelta(t, 20, view.FinalAmount.Float64(), 1e-9)
	assert.False(t, view.Pending)

	view, err = vm.UpdateQuantity(ctx, view.Items[0].ID, 0)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	view, err = vm.Clear(ctx)
	require.NoError(t, err)
	assert.Zero(t, view.ItemCount)
}

func TestNewCartViewModel_PanicsOnNil(t *testing.T) {
	require.Panics(t, func() { NewCartViewModel(nil) })
}

type RemoteViewTestSuite struct {
	suite.Suite
	fake   *backendtest.FakeBackend
	remote *RemoteCartService
	vm     *CartViewModel
}

func TestRemoteViewTestSuite(t *testing.T) {
	suite.Run(t, new(RemoteViewTestSuite))
}

func (suite *RemoteViewTestSuite) SetupTest() {
	suite.fake = backendtest.NewFakeBackend()
	suite.fake.AddProduct("p1", backendtest.Product{Name: "Serum", Price: 10, Discount: 2})
	suite.fake.AddProduct("p2", backendtest.Product{Name: "Toner", Price: 5})
	suite.fake.AddPromo("SPRING10", 10)
	suite.fake.SetBalance(300)

	suite.remote = NewRemoteCartService(backend.NewClient(suite.fake.URL), event.NewBus(), WithDebounceDelay(time.Hour))
	suite.vm = NewCartViewModel(NewRemoteCartSource(suite.remote, NewSession("token-1")))
}

func (suite *RemoteViewTestSuite) TearDownTest() {
	suite.remote.debouncer.Stop()
	suite.fake.Close()
}

func (suite *RemoteViewTestSuite) TestServerNumbersPassThrough() {
	ctx := context.Background()
	_, err := suite.vm.AddItem(ctx, serum, 1)
	suite.Require().NoError(err)
	view, err := suite.vm.ApplyPromo(ctx, "SPRING10")
	suite.Require().NoError(err)

	suite.Equal(model.SourceRemote, view.Source)
	suite.False(view.Pending)
	suite.InDelta(10, view.TotalAmount.Float64(), 1e-9)
	suite.InDelta(9, view.FinalAmount.Float64(), 1e-9)
	suite.Require().NotNil(view.PromoCodeDiscountAmount)
	suite.InDelta(1, view.PromoCodeDiscountAmount.Float64(), 1e-9)
}

func (suite *RemoteViewTestSuite) TestPendingQuantityOverlay() {
	ctx := context.Background()
	view, err := suite.vm.AddItem(ctx, serum, 1)
	suite.Require().NoError(err)
	itemID := view.Items[0].ID
	_, err = suite.vm.ApplyPromo(ctx, "SPRING10")
	suite.Require().NoError(err)

	view, err = suite.vm.UpdateQuantity(ctx, itemID, 3)
	suite.Require().NoError(err)
	suite.True(view.Pending)
	suite.Equal(3, view.Items[0].Quantity)
	suite.Equal(3, view.ItemCount)
	suite.InDelta(30, view.Items[0].TotalPrice.Float64(), 1e-9)
	suite.InDelta(30, view.TotalAmount.Float64(), 1e-9)
	suite.InDelta(27, view.FinalAmount.Float64(), 1e-9)
	suite.InDelta(3, view.PromoCodeDiscountAmount.Float64(), 1e-9)
	suite.Zero(suite.fake.Calls("update_quantity"))

	// 後端確認後數字一致
	suite.Require().NoError(suite.remote.FlushAll(ctx))
	view, err = suite.vm.View(ctx)
	suite.Require().NoError(err)
	suite.False(view.Pending)
	suite.InDelta(27, view.FinalAmount.Float64(), 1e-9)
}

func (suite *RemoteViewTestSuite) TestRollbackShowsServerQuantity() {
	ctx := context.Background()
	view, err := suite.vm.AddItem(ctx, serum, 2)
	suite.Require().NoError(err)
	itemID := view.Items[0].ID

	suite.fake.FailNext("update_quantity", http.StatusConflict, "only 2 left")
	view, err = suite.vm.UpdateQuantity(ctx, itemID, 8)
	suite.Require().NoError(err)
	suite.Equal(8, view.Items[0].Quantity)

	suite.Error(suite.remote.FlushAll(ctx))
	view, err = suite.vm.View(ctx)
	suite.Require().NoError(err)
	suite.False(view.Pending)
	suite.Equal(2, view.Items[0].Quantity)
}

func (suite *RemoteViewTestSuite) TestUpdateToZeroRemovesImmediately() {
	ctx := context.Background()
	view, err := suite.vm.AddItem(ctx, serum, 2)
	suite.Require().NoError(err)

	view, err = suite.vm.UpdateQuantity(ctx, view.Items[0].ID, 0)
	suite.Require().NoError(err)
	suite.Empty(view.Items)
	suite.Equal(1, suite.fake.Calls("remove_item"))
	suite.Zero(suite.fake.Calls("update_quantity"))
}

func (suite *RemoteViewTestSuite) TestWalletAndCheckout() {
	ctx := context.Background()
	_, err := suite.vm.AddItem(ctx, toner, 1)
	suite.Require().NoError(err)

	balance, err := suite.vm.WalletBalance(ctx)
	suite.Require().NoError(err)
	suite.InDelta(300, balance.Balance.Float64(), 1e-9)

	redirect, err := suite.vm.Checkout(ctx, model.PaymentRequest{Method: model.PaymentWallet, UseWallet: true})
	suite.Require().NoError(err)
	suite.NotEmpty(redirect.OrderID)
}

func (suite *RemoteViewTestSuite) TestBackendErrorSurfaces() {
	suite.fake.FailNext("get_cart", http.StatusServiceUnavailable, "maintenance")
	_, err := suite.vm.View(context.Background())
	suite.Require().Error(err)
	suite.Equal(apperr.UpstreamCode, apperr.From(err).Code)
}

func TestBuildView_NoPromo(t *testing.T) {
	final := model.Amount(20)
	cart := model.Cart{
		Items:       []model.CartItem{{ID: "a", Quantity: 2, UnitPrice: 10}},
		TotalAmount: 20,
		FinalAmount: &final,
	}
	model.RecomputeTotals(&cart)

	src := &stubPendingSource{pending: map[string]int{"a": 0}}
	view := buildView(src, cart)
	assert.True(t, view.Pending)
	assert.Empty(t, view.Items)
	assert.Zero(t, view.TotalAmount)
	assert.Zero(t, view.FinalAmount)
}

type stubPendingSource struct {
	RemoteCartSource
	pending map[string]int
}

func (s *stubPendingSource) PendingQuantity(itemID string) (int, bool) {
	q, ok := s.pending[itemID]
	return q, ok
}
