package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/dexmaker/internal/domain"
)

var testPair = domain.Pair{Base: "TOKEN", Quote: "USDC"}

func TestQuoteSource_MidOfBidAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "TOKEN", r.URL.Query().Get("base"))
		assert.Equal(t, "USDC", r.URL.Query().Get("quote"))
		_, _ = w.Write([]byte(`{"bid":9.9,"ask":10.1}`))
	}))
	defer srv.Close()

	s := NewQuoteSource("test", srv.URL, "", time.Second)
	price, ok, err := s.Fetch(context.Background(), testPair)
	require.NoError(t, err)
	require.True(t, ok)

	mid, _ := price.Float64()
	assert.InDelta(t, 10.0, mid, 1e-9)
}

func TestQuoteSource_NotFoundMeansNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewQuoteSource("test", srv.URL, "", time.Second)
	_, ok, err := s.Fetch(context.Background(), testPair)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuoteSource_OneSidedQuoteMeansNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bid":9.9,"ask":0}`))
	}))
	defer srv.Close()

	s := NewQuoteSource("test", srv.URL, "", time.Second)
	_, ok, err := s.Fetch(context.Background(), testPair)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuoteSource_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewQuoteSource("test", srv.URL, "", time.Second)
	_, _, err := s.Fetch(context.Background(), testPair)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestIndexSource_Price(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/price", r.URL.Path)
		assert.Equal(t, testPair.String(), r.URL.Query().Get("symbol"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"price":"10.25"}`))
	}))
	defer srv.Close()

	s := NewIndexSource("idx", srv.URL, "secret", time.Second)
	price, ok, err := s.Fetch(context.Background(), testPair)
	require.NoError(t, err)
	require.True(t, ok)

	p, _ := price.Float64()
	assert.InDelta(t, 10.25, p, 1e-9)
}

func TestIndexSource_NonPositivePriceMeansNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":"0"}`))
	}))
	defer srv.Close()

	s := NewIndexSource("idx", srv.URL, "", time.Second)
	_, ok, err := s.Fetch(context.Background(), testPair)
	require.NoError(t, err)
	assert.False(t, ok)
}
