package docstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindCustomer_Found(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total":1,"documents":[{
			"$id":"c1",
			"phone_number":"+254700000000",
			"pin":"1234",
			"is_registered":true,
			"active":false,
			"full_name":"Jane Doe",
			"account_id":"ACC-1",
			"credits":12.5
		}]}`))
	}))
	defer ts.Close()

	src := NewCustomerSource(newTestClient(ts.URL), "customers")

	c, found, err := src.FindCustomer(context.Background(), "+254700000000")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "+254700000000", c.PhoneNumber)
	assert.Equal(t, "1234", c.PIN)
	assert.True(t, c.IsRegistered)
	assert.False(t, c.SubscriptionActive)
	assert.Equal(t, "Jane Doe", c.FullName)
	assert.Equal(t, "ACC-1", c.AccountID)
	assert.Equal(t, 12.5, c.Credits)
}

func TestFindCustomer_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total":0,"documents":[]}`))
	}))
	defer ts.Close()

	src := NewCustomerSource(newTestClient(ts.URL), "customers")

	c, found, err := src.FindCustomer(context.Background(), "+254700000000")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, c)
}

func TestDocumentToCustomer_StrictFlags(t *testing.T) {
	c := documentToCustomer(Document{
		"phone_number":  "+254700000000",
		"pin":           float64(4321),
		"is_registered": "true",
		"active":        1.0,
	})

	assert.Equal(t, "4321", c.PIN)
	assert.False(t, c.IsRegistered)
	assert.False(t, c.SubscriptionActive)
}
