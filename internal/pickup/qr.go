// Package pickup issues the QR code a buyer shows at the store to collect a
// product bought in a flash promo.
package pickup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/skip2/go-qrcode"

	"ms-flashpromo/internal/apperr"
	"ms-flashpromo/internal/models"
)

const imageSize = 256

// Ticket is the payload sealed into a pickup code.
type Ticket struct {
	PurchaseID  string    `json:"purchase_id"`
	ProductID   string    `json:"product_id"`
	StoreID     string    `json:"store_id"`
	UserID      string    `json:"user_id"`
	PurchasedAt time.Time `json:"purchased_at"`
}

type Generator struct {
	secret []byte
}

func NewGenerator(secret string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{secret: hashed[:]}
}

func TicketFor(p *models.Purchase) Ticket {
	return Ticket{
		PurchaseID:  p.ID,
		ProductID:   p.ProductID,
		StoreID:     p.StoreID,
		UserID:      p.UserID,
		PurchasedAt: p.PurchasedAt,
	}
}

// Token seals the ticket of p into a URL-safe string.
func (g *Generator) Token(p *models.Purchase) (string, error) {
	data, err := json.Marshal(TicketFor(p))
	if err != nil {
		return "", errors.Wrap(err, "encode pickup ticket")
	}
	return encryptAES(data, g.secret)
}

// PNG renders the sealed ticket of p as a QR code image.
func (g *Generator) PNG(p *models.Purchase) ([]byte, error) {
	token, err := g.Token(p)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(token, qrcode.Medium, imageSize)
	if err != nil {
		return nil, errors.Wrap(err, "render pickup qr")
	}
	return png, nil
}

// Open verifies a token produced by Token and returns its ticket. Tokens
// sealed with another secret do not decode.
func (g *Generator) Open(token string) (*Ticket, error) {
	data, err := decryptAES(token, g.secret)
	if err != nil {
		return nil, apperr.Validation("invalid pickup code")
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil || t.PurchaseID == "" {
		return nil, apperr.Validation("invalid pickup code")
	}
	return &t, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, data, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func decryptAES(token string, key []byte) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("token too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}
