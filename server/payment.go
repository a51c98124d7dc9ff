package server

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func newOrderID() string {
	return "order_" + randomHex(8)
}

func newReceiptID() string {
	return "receipt_" + randomHex(6)
}

// paymentSignature computes the expected checkout signature for an order and
// payment id pair, keyed on the payment provider secret.
func paymentSignature(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyPaymentSignature(secret, orderID, paymentID, signature string) bool {
	expected := paymentSignature(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
