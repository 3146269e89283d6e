package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clevy11/bytebites-orders/internal/auth"
	"github.com/clevy11/bytebites-orders/internal/domain/order"
	"github.com/clevy11/bytebites-orders/internal/domain/user"
	"github.com/clevy11/bytebites-orders/internal/eventbus"
	"github.com/clevy11/bytebites-orders/internal/resilience"
	"github.com/clevy11/bytebites-orders/pkg/health"
)

// --- Mocks ---

type memUserRepo struct {
	mu      sync.Mutex
	nextID  int64
	byEmail map[string]*user.User
	byID    map[int64]*user.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		nextID:  1,
		byEmail: make(map[string]*user.User),
		byID:    make(map[int64]*user.User),
	}
}

func (m *memUserRepo) Create(_ context.Context, u *user.User) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return nil, user.ErrEmailTaken
	}
	saved := *u
	saved.ID = m.nextID
	saved.CreatedAt = time.Now()
	m.nextID++
	m.byEmail[saved.Email] = &saved
	m.byID[saved.ID] = &saved
	return &saved, nil
}

func (m *memUserRepo) FindByEmail(_ context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (m *memUserRepo) FindByID(_ context.Context, id int64) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

type memOrderRepo struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*order.Order
	fail   bool
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{nextID: 1, orders: make(map[int64]*order.Order)}
}

func (m *memOrderRepo) Save(_ context.Context, o *order.Order) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, assert.AnError
	}
	saved := *o
	saved.ID = m.nextID
	saved.CreatedAt = time.Now()
	m.nextID++
	m.orders[saved.ID] = &saved
	return &saved, nil
}

func (m *memOrderRepo) FindByID(_ context.Context, id int64) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		return o, nil
	}
	return nil, order.ErrNotFound
}

func (m *memOrderRepo) FindByCustomer(_ context.Context, customerID string) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) FindByRestaurant(_ context.Context, restaurantID int64) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.orders {
		if o.RestaurantID == restaurantID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, id, restaurantID int64, status order.Status) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.RestaurantID != restaurantID {
		return nil, order.ErrNotFound
	}
	o.Status = status
	return o, nil
}

type testEnv struct {
	router http.Handler
	users  *memUserRepo
	orders *memOrderRepo
	bus    *eventbus.MemoryBus
	codec  *auth.Codec

	mu       sync.Mutex
	observed []eventbus.Envelope
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		users:  newMemUserRepo(),
		orders: newMemOrderRepo(),
		bus:    eventbus.NewMemoryBus(eventbus.DefaultMemoryBusConfig()),
		codec:  auth.NewCodec([]byte("test-secret")),
	}
	t.Cleanup(env.bus.Close)

	// Observe everything the API publishes.
	env.bus.Bind(eventbus.QueueNotifications, "order.placed")
	require.NoError(t, env.bus.Subscribe(context.Background(), eventbus.QueueNotifications,
		func(_ context.Context, d eventbus.Delivery) error {
			env.mu.Lock()
			env.observed = append(env.observed, d.Envelope)
			env.mu.Unlock()
			return nil
		}))

	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig())
	retry := resilience.RetryConfig{
		MaxAttempts:       2,
		InitialInterval:   time.Millisecond,
		MaxInterval:       2 * time.Millisecond,
		PerAttemptTimeout: 100 * time.Millisecond,
	}
	submitter := order.NewSubmitter(env.orders, env.bus, breaker, retry)
	authService := auth.NewService(env.users, env.codec, time.Hour)

	healthSvc := health.New()
	healthSvc.SetReady(true)

	h := NewHandler(authService, env.orders, submitter)
	env.router = NewRouter(h, env.codec, healthSvc)
	return env
}

func (e *testEnv) observedEvents() []eventbus.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]eventbus.Envelope(nil), e.observed...)
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) token(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	token, err := e.codec.Issue(subject, roles, time.Hour)
	require.NoError(t, err)
	return token
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) orderResponse {
	t.Helper()
	var resp orderResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestPlaceOrder_FullPipeline(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "42", auth.RoleCustomer)

	w := env.do(t, http.MethodPost, "/api/orders", token, placeOrderRequest{
		RestaurantID: 7,
		Items: []placeOrderItem{
			{Name: "Pizza", Price: decimal.RequireFromString("10.50"), Quantity: 2},
		},
		DeliveryAddress: "1 Main St",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decodeOrder(t, w)

	assert.Equal(t, "42", resp.CustomerID)
	assert.Equal(t, int64(7), resp.RestaurantID)
	assert.Equal(t, string(order.StatusPending), resp.Status)
	assert.True(t, resp.TotalAmount.Equal(decimal.RequireFromString("21.00")), "got %s", resp.TotalAmount)

	// Exactly one order-placed event reaches the bound queue.
	require.Eventually(t, func() bool {
		return len(env.observedEvents()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	ev := env.observedEvents()[0]
	assert.Equal(t, "order.placed", ev.TypeTag)
	assert.Contains(t, string(ev.Payload), `"orderId":`+strconv.FormatInt(resp.ID, 10))
}

func TestPlaceOrder_RequiresCustomerRole(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "9", auth.RoleRestaurantOwner)

	w := env.do(t, http.MethodPost, "/api/orders", token, placeOrderRequest{
		RestaurantID: 7,
		Items:        []placeOrderItem{{Name: "Pizza", Price: decimal.RequireFromString("10.50"), Quantity: 1}},
	})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, env.observedEvents())
}

func TestPlaceOrder_NoToken(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/orders", "", placeOrderRequest{RestaurantID: 7})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPlaceOrder_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "42", auth.RoleCustomer)

	tests := []struct {
		name string
		req  placeOrderRequest
	}{
		{name: "no items", req: placeOrderRequest{RestaurantID: 7}},
		{name: "zero quantity", req: placeOrderRequest{
			RestaurantID: 7,
			Items:        []placeOrderItem{{Name: "Pizza", Price: decimal.RequireFromString("10.50"), Quantity: 0}},
		}},
		{name: "negative price", req: placeOrderRequest{
			RestaurantID: 7,
			Items:        []placeOrderItem{{Name: "Pizza", Price: decimal.RequireFromString("-1"), Quantity: 1}},
		}},
		{name: "blank name", req: placeOrderRequest{
			RestaurantID: 7,
			Items:        []placeOrderItem{{Name: "  ", Price: decimal.RequireFromString("5"), Quantity: 1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/orders", token, tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, env.observedEvents(), "rejected orders must not publish")
}

func TestPlaceOrder_DegradedFallback(t *testing.T) {
	env := newTestEnv(t)
	env.orders.fail = true
	token := env.token(t, "42", auth.RoleCustomer)

	w := env.do(t, http.MethodPost, "/api/orders", token, placeOrderRequest{
		RestaurantID: 7,
		Items: []placeOrderItem{
			{Name: "Pizza", Price: decimal.RequireFromString("10.50"), Quantity: 2},
		},
		DeliveryAddress: "1 Main St",
	})

	// Degraded, not failed: the client still gets 201 with the fallback order.
	require.Equal(t, http.StatusCreated, w.Code)
	resp := decodeOrder(t, w)
	assert.Equal(t, int64(0), resp.ID)
	assert.Equal(t, order.FallbackAddress, resp.DeliveryAddress)
	assert.True(t, resp.TotalAmount.IsZero())
	assert.Equal(t, string(order.StatusPending), resp.Status)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, env.observedEvents(), "fallback path must not publish")
}

func TestListMyOrders_ScopedToCaller(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "42", auth.RoleCustomer)
	bob := env.token(t, "43", auth.RoleCustomer)

	place := func(token string) {
		w := env.do(t, http.MethodPost, "/api/orders", token, placeOrderRequest{
			RestaurantID: 7,
			Items:        []placeOrderItem{{Name: "Pizza", Price: decimal.RequireFromString("10.50"), Quantity: 1}},
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	place(alice)
	place(alice)
	place(bob)

	w := env.do(t, http.MethodGet, "/api/orders", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list []orderResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 2)
	for _, o := range list {
		assert.Equal(t, "42", o.CustomerID)
	}
}

func TestGetOrder_Ownership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "42", auth.RoleCustomer)
	bob := env.token(t, "43", auth.RoleCustomer)
	admin := env.token(t, "1", auth.RoleAdmin)

	w := env.do(t, http.MethodPost, "/api/orders", alice, placeOrderRequest{
		RestaurantID: 7,
		Items:        []placeOrderItem{{Name: "Pizza", Price: decimal.RequireFromString("10.50"), Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	placed := decodeOrder(t, w)
	path := "/api/orders/" + strconv.FormatInt(placed.ID, 10)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, path, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, path, bob, nil).Code,
		"a foreign order must look like it does not exist")
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, path, admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/orders/99999", alice, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/orders/abc", alice, nil).Code)
}

func TestRestaurantOrders(t *testing.T) {
	env := newTestEnv(t)
	customer := env.token(t, "42", auth.RoleCustomer)
	owner := env.token(t, "9", auth.RoleRestaurantOwner)

	w := env.do(t, http.MethodPost, "/api/orders", customer, placeOrderRequest{
		RestaurantID: 7,
		Items:        []placeOrderItem{{Name: "Pizza", Price: decimal.RequireFromString("10.50"), Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Customers cannot read restaurant queues.
	assert.Equal(t, http.StatusForbidden,
		env.do(t, http.MethodGet, "/api/orders/restaurant/7", customer, nil).Code)

	w = env.do(t, http.MethodGet, "/api/orders/restaurant/7", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []orderResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list, 1)
}

func TestUpdateOrderStatus(t *testing.T) {
	env := newTestEnv(t)
	customer := env.token(t, "42", auth.RoleCustomer)
	owner := env.token(t, "9", auth.RoleRestaurantOwner)

	w := env.do(t, http.MethodPost, "/api/orders", customer, placeOrderRequest{
		RestaurantID: 7,
		Items:        []placeOrderItem{{Name: "Pizza", Price: decimal.RequireFromString("10.50"), Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	placed := decodeOrder(t, w)
	path := "/api/orders/" + strconv.FormatInt(placed.ID, 10) + "/status"

	// Wrong restaurant cannot move the order.
	w = env.do(t, http.MethodPut, path, owner, updateStatusRequest{RestaurantID: 8, Status: "ACCEPTED"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Unknown status is rejected.
	w = env.do(t, http.MethodPut, path, owner, updateStatusRequest{RestaurantID: 7, Status: "DELIVERED"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, path, owner, updateStatusRequest{RestaurantID: 7, Status: "ACCEPTED"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ACCEPTED", decodeOrder(t, w).Status)

	// Customers cannot update status at all.
	w = env.do(t, http.MethodPut, path, customer, updateStatusRequest{RestaurantID: 7, Status: "READY"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthEndpoints_FullFlow(t *testing.T) {
	env := newTestEnv(t)

	// Register is public.
	w := env.do(t, http.MethodPost, "/auth/register", "", registerRequest{
		Email:    "alice@example.com",
		Password: "s3cret",
		Name:     "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var session sessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&session))
	assert.Equal(t, auth.RoleCustomer, session.Role)
	assert.NotEmpty(t, session.Token)

	// Duplicate email conflicts.
	w = env.do(t, http.MethodPost, "/auth/register", "", registerRequest{
		Email:    "alice@example.com",
		Password: "other",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Login with right and wrong credentials.
	w = env.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "alice@example.com", Password: "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&session))

	w = env.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "alice@example.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Refresh issues a fresh session for the same user.
	w = env.do(t, http.MethodPost, "/auth/refresh-token", "", refreshRequest{Token: session.Token})
	require.Equal(t, http.StatusOK, w.Code)
	var refreshed sessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&refreshed))
	assert.Equal(t, session.UserID, refreshed.UserID)

	w = env.do(t, http.MethodPost, "/auth/refresh-token", "", refreshRequest{Token: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The issued token works against the protected surface.
	w = env.do(t, http.MethodGet, "/api/orders", session.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpointsArePublic(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/livez", "", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", "", nil).Code)
}
