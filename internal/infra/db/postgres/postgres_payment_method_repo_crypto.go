package postgres

import (
	"context"

	"peach-subscription-billing/internal/domain"
	"peach-subscription-billing/internal/domain/model"
	"peach-subscription-billing/internal/domain/ports/repository"
	"peach-subscription-billing/internal/infra/security"
)

var _ repository.PaymentMethodRepository = (*paymentMethodRepoCrypto)(nil)

// paymentMethodRepoCrypto encrypts registration tokens before they hit the
// payment_methods table and decrypts them on the way out. Callers above the
// repository only ever see plaintext tokens.
//
// The underlying table upserts on (user_id, token). AES-GCM produces a fresh
// ciphertext per call, so Save first looks for a stored row holding the same
// plaintext and reuses its ciphertext; otherwise a redelivered webhook would
// insert a duplicate row instead of refreshing the existing one.
type paymentMethodRepoCrypto struct {
	inner  repository.PaymentMethodRepository
	cipher *security.TokenCipher
}

func NewPaymentMethodRepoCrypto(inner repository.PaymentMethodRepository, cipher *security.TokenCipher) repository.PaymentMethodRepository {
	return &paymentMethodRepoCrypto{inner: inner, cipher: cipher}
}

func (d *paymentMethodRepoCrypto) Save(ctx context.Context, tx repository.Tx, m *model.PaymentMethodDetail) error {
	plain := m.Token

	stored, err := d.inner.ListByUser(ctx, tx, m.UserID)
	if err != nil && err != domain.ErrNotFound {
		return err
	}

	var token string
	for _, ex := range stored {
		pt, dErr := d.cipher.DecryptToken(ex.Token)
		if dErr != nil {
			// A row written under another key cannot match; reads will
			// surface it. Keep scanning.
			continue
		}
		if pt == plain {
			token = ex.Token
			break
		}
	}
	if token == "" {
		token, err = d.cipher.EncryptToken(plain)
		if err != nil {
			return domain.ErrOperationFailed
		}
	}

	m.Token = token
	defer func() { m.Token = plain }()
	return d.inner.Save(ctx, tx, m)
}

func (d *paymentMethodRepoCrypto) FindByID(ctx context.Context, tx repository.Tx, id model.PaymentMethodID) (*model.PaymentMethodDetail, error) {
	m, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return d.decrypt(m)
}

func (d *paymentMethodRepoCrypto) FindDefaultActiveByUser(ctx context.Context, tx repository.Tx, userID model.UserID) (*model.PaymentMethodDetail, error) {
	m, err := d.inner.FindDefaultActiveByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return d.decrypt(m)
}

func (d *paymentMethodRepoCrypto) ListByUser(ctx context.Context, tx repository.Tx, userID model.UserID) ([]*model.PaymentMethodDetail, error) {
	list, err := d.inner.ListByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		if _, err := d.decrypt(m); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (d *paymentMethodRepoCrypto) SetDefault(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error {
	return d.inner.SetDefault(ctx, tx, userID, id)
}

func (d *paymentMethodRepoCrypto) Deactivate(ctx context.Context, tx repository.Tx, userID model.UserID, id model.PaymentMethodID) error {
	return d.inner.Deactivate(ctx, tx, userID, id)
}

func (d *paymentMethodRepoCrypto) decrypt(m *model.PaymentMethodDetail) (*model.PaymentMethodDetail, error) {
	pt, err := d.cipher.DecryptToken(m.Token)
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	m.Token = pt
	return m, nil
}
