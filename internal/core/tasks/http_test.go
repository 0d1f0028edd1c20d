package tasks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderProducerSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	builder := &Builder{Client: server.Client(), UserAgent: "paceline-test"}
	queue, err := builder.Build([]Spec{{URL: server.URL + "/health"}})
	require.NoError(t, err)
	require.Len(t, queue, 1)

	result, err := queue[0].Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
}

func TestBuilderProducerExpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	builder := &Builder{Client: server.Client()}
	queue, err := builder.Build([]Spec{{URL: server.URL, ExpectStatus: http.StatusNotFound}})
	require.NoError(t, err)

	result, err := queue[0].Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, result.StatusCode)
}

func TestBuilderProducerUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	builder := &Builder{Client: server.Client()}
	queue, err := builder.Build([]Spec{{URL: server.URL}})
	require.NoError(t, err)

	result, err := queue[0].Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, result)
	require.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
}

func TestBuilderRejectsInvalidSpec(t *testing.T) {
	builder := &Builder{}
	_, err := builder.Build([]Spec{{URL: "not-a-url"}})
	require.Error(t, err)
}

func TestBuilderProducerHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	builder := &Builder{Client: server.Client()}
	queue, err := builder.Build([]Spec{{URL: server.URL, Timeout: "30ms"}})
	require.NoError(t, err)

	_, err = queue[0].Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
