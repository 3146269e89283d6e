package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clevy11/bytebites-orders/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(customer_id, restaurant_id, items, total_amount, status, delivery_address, special_instructions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	selectOrderSQL = `SELECT id, customer_id, restaurant_id, items, total_amount,
		status, delivery_address, special_instructions, created_at FROM orders`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items are
// serialized to JSON for storage in the JSONB column.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Save persists a new order and returns it with the assigned ID.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) (*order.Order, error) {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal order items")
	}

	saved := *o
	err = r.pool.QueryRow(ctx, insertOrderSQL,
		o.CustomerID, o.RestaurantID, itemsJSON, o.TotalAmount,
		string(o.Status), o.DeliveryAddress, o.SpecialInstructions,
	).Scan(&saved.ID, &saved.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	return &saved, nil
}

// FindByID returns a single order or order.ErrNotFound.
func (r *OrderRepository) FindByID(ctx context.Context, id int64) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, selectOrderSQL+` WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find order %d", id)
	}
	return o, nil
}

// FindByCustomer returns the customer's orders, newest first.
func (r *OrderRepository) FindByCustomer(ctx context.Context, customerID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, selectOrderSQL+` WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "query customer orders")
	}
	return collectOrders(rows)
}

// FindByRestaurant returns the restaurant's orders, newest first.
func (r *OrderRepository) FindByRestaurant(ctx context.Context, restaurantID int64) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, selectOrderSQL+` WHERE restaurant_id = $1 ORDER BY created_at DESC`, restaurantID)
	if err != nil {
		return nil, errors.Wrap(err, "query restaurant orders")
	}
	return collectOrders(rows)
}

// UpdateStatus transitions an order's status, scoped to the owning restaurant
// so one restaurant cannot touch another's orders.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, restaurantID int64, status order.Status) (*order.Order, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2 AND restaurant_id = $3
		 RETURNING id, customer_id, restaurant_id, items, total_amount,
		 status, delivery_address, special_instructions, created_at`,
		string(status), id, restaurantID,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "update order %d status", id)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o         order.Order
		status    string
		itemsJSON []byte
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.RestaurantID, &itemsJSON, &o.TotalAmount,
		&status, &o.DeliveryAddress, &o.SpecialInstructions, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, errors.Wrap(err, "unmarshal order items")
	}
	o.Status = order.Status(status)
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]order.Order, error) {
	defer rows.Close()
	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}
	return out, nil
}
