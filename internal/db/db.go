package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/uptrace/bun"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/geo"
	"ms-flashpromo/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

// ---------------- STORES ----------------

func (d *DB) CreateStore(ctx context.Context, store *models.Store) error {
	_, err := d.Bun.NewInsert().Model(store).Exec(ctx)
	return errors.Wrap(err, "insert store")
}

func (d *DB) GetStoreByID(ctx context.Context, id string) (*models.Store, error) {
	var store models.Store
	err := d.Bun.NewSelect().Model(&store).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "store %s", id)
	}
	return &store, nil
}

// ---------------- PRODUCTS ----------------

func (d *DB) CreateProduct(ctx context.Context, product *models.Product) error {
	_, err := d.Bun.NewInsert().Model(product).Exec(ctx)
	return errors.Wrap(err, "insert product")
}

func (d *DB) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := d.Bun.NewSelect().Model(&product).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "product %s", id)
	}
	return &product, nil
}

// ---------------- USERS ----------------

func (d *DB) CreateUser(ctx context.Context, user *models.User) error {
	_, err := d.Bun.NewInsert().Model(user).Exec(ctx)
	return errors.Wrap(err, "insert user")
}

func (d *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().Model(&user).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "user %s", id)
	}
	return &user, nil
}

// FindUsersInBox returns users whose coordinates fall inside box, ordered by id.
func (d *DB) FindUsersInBox(ctx context.Context, box geo.Box) ([]models.User, error) {
	var users []models.User
	err := d.Bun.NewSelect().
		Model(&users).
		Where("latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat).
		Where("longitude BETWEEN ? AND ?", box.MinLng, box.MaxLng).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "select users in box")
	}
	return users, nil
}

// ---------------- PROMOS ----------------

func (d *DB) CreatePromo(ctx context.Context, promo *models.FlashPromo) error {
	_, err := d.Bun.NewInsert().Model(promo).Exec(ctx)
	return errors.Wrap(err, "insert flash promo")
}

func (d *DB) GetPromoByID(ctx context.Context, id string) (*models.FlashPromo, error) {
	var promo models.FlashPromo
	err := d.Bun.NewSelect().Model(&promo).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "flash promo %s", id)
	}
	return &promo, nil
}

// FindPromosByState lists promos whose stored state is one of states.
func (d *DB) FindPromosByState(ctx context.Context, states ...models.PromoState) ([]models.FlashPromo, error) {
	var promos []models.FlashPromo
	err := d.Bun.NewSelect().
		Model(&promos).
		Where("state IN (?)", bun.In(states)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "select flash promos by state")
	}
	return promos, nil
}

// UpdatePromoState moves a promo from one state to another. It reports false
// when the stored state was no longer from, so concurrent evaluators agree on
// a single transition.
func (d *DB) UpdatePromoState(ctx context.Context, id string, from, to models.PromoState, now time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.FlashPromo)(nil)).
		Set("state = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("state = ?", from).
		Exec(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "update flash promo %s state", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

// ---------------- PURCHASES ----------------

func (d *DB) GetPurchaseByID(ctx context.Context, id string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := d.Bun.NewSelect().Model(&purchase).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "purchase %s", id)
	}
	return &purchase, nil
}

func (d *DB) CountPurchasesByPromo(ctx context.Context, promoID string) (int, error) {
	n, err := d.Bun.NewSelect().Model((*models.Purchase)(nil)).Where("promo_id = ?", promoID).Count(ctx)
	return n, errors.Wrap(err, "count purchases")
}

// FinalizePurchase commits a purchase in one transaction: the product is
// marked unavailable only if it still is available, the buyer's counters are
// updated and the purchase row is written. claim runs last, inside the
// transaction; if it fails everything rolls back.
func (d *DB) FinalizePurchase(ctx context.Context, purchase *models.Purchase, claim func(ctx context.Context) error) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Product)(nil)).
			Set("available = ?", false).
			Where("id = ?", purchase.ProductID).
			Where("available = ?", true).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "mark product sold")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.Conflict("product %s is no longer available", purchase.ProductID)
		}

		res, err = tx.NewUpdate().
			Model((*models.User)(nil)).
			Set("purchase_count = purchase_count + 1").
			Set("total_spent = total_spent + ?", purchase.Price.Amount).
			Set("last_purchase_at = ?", purchase.PurchasedAt).
			Where("id = ?", purchase.UserID).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "update buyer stats")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("user %s", purchase.UserID)
		}

		if _, err := tx.NewInsert().Model(purchase).Exec(ctx); err != nil {
			return errors.Wrap(err, "insert purchase")
		}

		return claim(ctx)
	})
}

func (d *DB) Ping(ctx context.Context) error {
	return d.Bun.PingContext(ctx)
}
