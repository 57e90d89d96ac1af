package router

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RoyceAzure/lab/cartsync/internal/api"
	"github.com/RoyceAzure/lab/cartsync/internal/api/handler"
	"github.com/RoyceAzure/lab/cartsync/internal/api/middleware"
	"github.com/RoyceAzure/lab/cartsync/internal/constants"
	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
	"github.com/RoyceAzure/lab/cartsync/internal/event"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/backend"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/backend/backendtest"
	"github.com/RoyceAzure/lab/cartsync/internal/infra/storage"
	"github.com/RoyceAzure/lab/cartsync/internal/pkg/ratelimit"
	"github.com/RoyceAzure/lab/cartsync/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
)

const cartPath = "/api/v1/cart"

type cartResponse struct {
	Data    model.CartView `json:"data"`
	Message string         `json:"message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RouterTestSuite struct {
	suite.Suite
	fake    *backendtest.FakeBackend
	storage *storage.MemoryStorage
	bus     *event.Bus
	remote  *service.RemoteCartService
	factory *service.CartSourceFactory
	limiter ratelimit.Limiter
	router  *chi.Mux
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func (suite *RouterTestSuite) SetupTest() {
	suite.fake = backendtest.NewFakeBackend()
	suite.fake.AddProduct("p1", backendtest.Product{Name: "Serum", Price: 10, Discount: 2})
	suite.fake.AddProduct("p2", backendtest.Product{Name: "Toner", Price: 5})
	suite.fake.AddPromo("SPRING10", 10)
	suite.fake.SetBalance(300)

	suite.storage = storage.NewMemoryStorage()
	suite.bus = event.NewBus()
	suite.remote = service.NewRemoteCartService(backend.NewClient(suite.fake.URL), suite.bus, service.WithDebounceDelay(time.Hour))
	suite.factory = service.NewCartSourceFactory(suite.storage, suite.bus, suite.remote, nil)
	suite.limiter = ratelimit.NewKeyedLimiter(nil)
	suite.router = suite.setupRouter(Options{Limiter: suite.limiter})
}

func (suite *RouterTestSuite) TearDownTest() {
	suite.remote.Close(context.Background())
	suite.limiter.Stop()
	suite.fake.Close()
}

func (suite *RouterTestSuite) setupRouter(opts Options) *chi.Mux {
	opts.Factory = suite.factory
	server := api.NewServer(
		handler.NewCartHandler(),
		handler.NewEventHandler(suite.bus, time.Second, nil),
		handler.NewHealthHandler(suite.storage),
	)
	return SetupRouter(server, opts, nil)
}

func (suite *RouterTestSuite) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	suite.router.ServeHTTP(rec, req)
	return rec
}

func (suite *RouterTestSuite) decodeCart(rec *httptest.ResponseRecorder) model.CartView {
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var res cartResponse
	suite.Require().NoError(json.NewDecoder(rec.Body).Decode(&res))
	return res.Data
}

func (suite *RouterTestSuite) decodeError(rec *httptest.ResponseRecorder) errorResponse {
	var res errorResponse
	suite.Require().NoError(json.NewDecoder(rec.Body).Decode(&res))
	return res
}

func guestCookieOf(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == constants.DefaultGuestCookie {
			return c
		}
	}
	return nil
}

const serumBody = `{"productId":"p1","name":"Serum","price":10,"discount":2,"quantity":2}`

func (suite *RouterTestSuite) TestGuestCart() {
	rec := suite.do(http.MethodPost, cartPath+"/items", serumBody)
	guest := guestCookieOf(rec)
	suite.Require().NotNil(guest)
	suite.True(guest.HttpOnly)

	view := suite.decodeCart(rec)
	suite.Equal(model.SourceLocal, view.Source)
	suite.Equal(2, view.ItemCount)
	suite.InDelta(20, view.FinalAmount.Float64(), 1e-9)

	// 同一個訪客 cookie 讀到同一台購物車，不重發 cookie
	rec = suite.do(http.MethodGet, cartPath, "", guest)
	suite.Nil(guestCookieOf(rec))
	view = suite.decodeCart(rec)
	suite.Require().Len(view.Items, 1)
	itemID := view.Items[0].ID

	view = suite.decodeCart(suite.do(http.MethodPatch, cartPath+"/items/"+itemID, `{"quantity":5}`, guest))
	suite.Equal(5, view.ItemCount)
	suite.InDelta(50, view.TotalAmount.Float64(), 1e-9)

	// 其他訪客看不到
	view = suite.decodeCart(suite.do(http.MethodGet, cartPath, ""))
	suite.Empty(view.Items)

	view = suite.decodeCart(suite.do(http.MethodDelete, cartPath+"/items/"+itemID, "", guest))
	suite.Empty(view.Items)
	suite.Zero(view.FinalAmount.Float64())
}

func (suite *RouterTestSuite) TestGuestClear() {
	guest := guestCookieOf(suite.do(http.MethodPost, cartPath+"/items", serumBody))
	suite.Require().NotNil(guest)

	view := suite.decodeCart(suite.do(http.MethodDelete, cartPath, "", guest))
	suite.Empty(view.Items)
	suite.Zero(view.ItemCount)
}

func (suite *RouterTestSuite) TestInvalidGuestCookieIsReplaced() {
	rec := suite.do(http.MethodGet, cartPath, "", &http.Cookie{Name: constants.DefaultGuestCookie, Value: "../../etc"})
	guest := guestCookieOf(rec)
	suite.Require().NotNil(guest)
	suite.NotEqual("../../etc", guest.Value)
}

func (suite *RouterTestSuite) TestGuestSignInRequired() {
	testCases := []struct {
		method string
		path   string
		body   string
	}{
		{method: http.MethodPost, path: "/promo", body: `{"promoCode":"SPRING10"}`},
		{method: http.MethodDelete, path: "/promo"},
		{method: http.MethodGet, path: "/wallet"},
		{method: http.MethodPost, path: "/checkout", body: `{"method":"online"}`},
	}
	for _, tc := range testCases {
		rec := suite.do(tc.method, cartPath+tc.path, tc.body)
		suite.Equal(http.StatusUnauthorized, rec.Code, tc.path)
		suite.Equal("sign_in_required", suite.decodeError(rec).Code, tc.path)
	}
}

func (suite *RouterTestSuite) TestBadRequest() {
	testCases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "malformed json", method: http.MethodPost, path: "/items", body: `{"productId":`},
		{name: "missing product", method: http.MethodPost, path: "/items", body: `{"quantity":1}`},
		{name: "negative quantity", method: http.MethodPost, path: "/items", body: `{"productId":"p1","quantity":-1}`},
		{name: "missing quantity", method: http.MethodPatch, path: "/items/x", body: `{}`},
		{name: "empty promo", method: http.MethodPost, path: "/promo", body: `{"promoCode":" "}`},
		{name: "unknown payment method", method: http.MethodPost, path: "/checkout", body: `{"method":"cash"}`},
	}
	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			rec := suite.do(tc.method, cartPath+tc.path, tc.body)
			suite.Equal(http.StatusBadRequest, rec.Code)
			suite.Equal("bad_request", suite.decodeError(rec).Code)
		})
	}
}

func (suite *RouterTestSuite) TestSignedInCart() {
	token := &http.Cookie{Name: "token", Value: "token-1"}

	view := suite.decodeCart(suite.do(http.MethodPost, cartPath+"/items", `{"productId":"p1","quantity":1}`, token))
	suite.Equal(model.SourceRemote, view.Source)
	suite.Require().Len(view.Items, 1)
	itemID := view.Items[0].ID

	// 數量變更先反映在畫面，尚未送出
	view = suite.decodeCart(suite.do(http.MethodPatch, cartPath+"/items/"+itemID, `{"quantity":3}`, token))
	suite.True(view.Pending)
	suite.Equal(3, view.ItemCount)
	suite.Equal(1, suite.fake.Cart("token-1").Items[0].Quantity)

	// 套用 promo 前先送出等待中的數量
	view = suite.decodeCart(suite.do(http.MethodPost, cartPath+"/promo", `{"promoCode":"SPRING10"}`, token))
	suite.False(view.Pending)
	suite.Require().NotNil(view.AppliedPromoCode)
	suite.Equal("SPRING10", *view.AppliedPromoCode)
	suite.Equal(3, suite.fake.Cart("token-1").Items[0].Quantity)

	rec := suite.do(http.MethodGet, cartPath+"/wallet", "", token)
	suite.Require().Equal(http.StatusOK, rec.Code)
	var wallet struct {
		Data model.WalletBalance `json:"data"`
	}
	suite.Require().NoError(json.NewDecoder(rec.Body).Decode(&wallet))
	suite.InDelta(300, wallet.Data.Balance.Float64(), 1e-9)

	rec = suite.do(http.MethodPost, cartPath+"/checkout", `{"method":"online"}`, token)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var redirect struct {
		Data model.PaymentRedirect `json:"data"`
	}
	suite.Require().NoError(json.NewDecoder(rec.Body).Decode(&redirect))
	suite.NotEmpty(redirect.Data.RedirectURL)
}

func (suite *RouterTestSuite) TestSignedInInvalidPromo() {
	token := &http.Cookie{Name: "jwt", Value: "token-1"}
	suite.decodeCart(suite.do(http.MethodPost, cartPath+"/items", `{"productId":"p1","quantity":1}`, token))

	rec := suite.do(http.MethodPost, cartPath+"/promo", `{"promoCode":"NOPE"}`, token)
	suite.Equal(http.StatusBadRequest, rec.Code)
	suite.NotEmpty(suite.decodeError(rec).Message)
}

func (suite *RouterTestSuite) TestSignedInUpstreamFailure() {
	suite.fake.FailNext("get_cart", http.StatusServiceUnavailable, "maintenance")
	rec := suite.do(http.MethodGet, cartPath, "", &http.Cookie{Name: "token", Value: "token-1"})
	suite.Equal(http.StatusBadGateway, rec.Code)
	suite.Equal("upstream_error", suite.decodeError(rec).Code)
}

func (suite *RouterTestSuite) TestMigrateOnLogin() {
	suite.router = suite.setupRouter(Options{Migrator: service.NewCartMigrator(suite.remote, nil)})

	guest := guestCookieOf(suite.do(http.MethodPost, cartPath+"/items", serumBody))
	suite.Require().NotNil(guest)

	view := suite.decodeCart(suite.do(http.MethodGet, cartPath, "", guest, &http.Cookie{Name: "token", Value: "token-1"}))
	suite.Equal(model.SourceRemote, view.Source)
	suite.Require().Len(view.Items, 1)
	suite.Equal("p1", view.Items[0].ProductID)
	suite.Equal(2, view.Items[0].Quantity)

	// 搬移後訪客購物車清空，不會重複加入
	local := suite.decodeCart(suite.do(http.MethodGet, cartPath, "", guest))
	suite.Empty(local.Items)

	view = suite.decodeCart(suite.do(http.MethodGet, cartPath, "", guest, &http.Cookie{Name: "token", Value: "token-1"}))
	suite.Equal(2, view.Items[0].Quantity)
}

// 登入後瀏覽器同時送出多個請求，訪客購物車只會搬一次
func (suite *RouterTestSuite) TestConcurrentRequestsMigrateOnce() {
	suite.router = suite.setupRouter(Options{Migrator: service.NewCartMigrator(suite.remote, nil)})

	guest := guestCookieOf(suite.do(http.MethodPost, cartPath+"/items", serumBody))
	suite.Require().NotNil(guest)
	token := &http.Cookie{Name: "token", Value: "token-1"}

	const n = 4
	codes := make([]int, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			codes[i] = suite.do(http.MethodGet, cartPath, "", guest, token).Code
		}(i)
	}
	close(start)
	wg.Wait()

	for _, code := range codes {
		suite.Equal(http.StatusOK, code)
	}
	suite.Equal(1, suite.fake.Calls("add_item"))
	suite.Equal(2, suite.fake.Cart("token-1").Items[0].Quantity)
	suite.Empty(suite.decodeCart(suite.do(http.MethodGet, cartPath, "", guest)).Items)
}

func (suite *RouterTestSuite) TestNoMigrationByDefault() {
	guest := guestCookieOf(suite.do(http.MethodPost, cartPath+"/items", serumBody))
	suite.Require().NotNil(guest)

	view := suite.decodeCart(suite.do(http.MethodGet, cartPath, "", guest, &http.Cookie{Name: "token", Value: "token-1"}))
	suite.Empty(view.Items)
	suite.Len(suite.decodeCart(suite.do(http.MethodGet, cartPath, "", guest)).Items, 1)
}

func (suite *RouterTestSuite) TestRateLimit() {
	limiter := ratelimit.NewKeyedLimiter(&ratelimit.LimiterConfig{
		Capacity:   2,
		Rate:       0.001,
		RefillRate: time.Hour,
	})
	defer limiter.Stop()
	suite.router = suite.setupRouter(Options{Limiter: limiter})

	guest := guestCookieOf(suite.do(http.MethodGet, cartPath, ""))
	suite.Require().NotNil(guest)

	suite.Equal(http.StatusOK, suite.do(http.MethodPost, cartPath+"/items", serumBody, guest).Code)
	suite.Equal(http.StatusOK, suite.do(http.MethodPost, cartPath+"/items", serumBody, guest).Code)
	rec := suite.do(http.MethodPost, cartPath+"/items", serumBody, guest)
	suite.Equal(http.StatusTooManyRequests, rec.Code)
	suite.Equal("too_many_requests", suite.decodeError(rec).Code)

	// 讀取不受限制，其他訪客也不受影響
	suite.Equal(http.StatusOK, suite.do(http.MethodGet, cartPath, "", guest).Code)
	suite.Equal(http.StatusOK, suite.do(http.MethodPost, cartPath+"/items", serumBody).Code)
}

func (suite *RouterTestSuite) TestHealthz() {
	rec := suite.do(http.MethodGet, "/healthz", "")
	suite.Equal(http.StatusOK, rec.Code)
	suite.Contains(rec.Body.String(), `"status":"ok"`)

	suite.Require().NoError(suite.storage.Close())
	rec = suite.do(http.MethodGet, "/healthz", "")
	suite.Equal(http.StatusServiceUnavailable, rec.Code)
	suite.Contains(rec.Body.String(), `"status":"degraded"`)
}

func (suite *RouterTestSuite) TestRequestID() {
	rec := suite.do(http.MethodGet, "/healthz", "")
	suite.NotEmpty(rec.Header().Get(middleware.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-1")
	rec = httptest.NewRecorder()
	suite.router.ServeHTTP(rec, req)
	suite.Equal("req-1", rec.Header().Get(middleware.RequestIDHeader))
}

func (suite *RouterTestSuite) TestEvents() {
	srv := httptest.NewServer(suite.router)
	defer srv.Close()

	guest := &http.Cookie{Name: constants.DefaultGuestCookie, Value: "6f1c2a8e-3b7d-4e55-9a61-2f0d4c8b9e10"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+cartPath+"/events", nil)
	suite.Require().NoError(err)
	req.AddCookie(guest)
	res, err := srv.Client().Do(req)
	suite.Require().NoError(err)
	defer res.Body.Close()
	suite.Require().Equal(http.StatusOK, res.StatusCode)
	suite.Equal("text/event-stream", res.Header.Get("Content-Type"))

	events := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(res.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
		close(events)
	}()

	suite.Equal("cart:snapshot", <-events)

	suite.Equal(http.StatusOK, suite.do(http.MethodPost, cartPath+"/items", serumBody, guest).Code)
	select {
	case name := <-events:
		suite.Equal(constants.CartChangedEventName, name)
	case <-ctx.Done():
		suite.Fail("cart:changed not received")
	}
}
