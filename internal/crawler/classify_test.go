package crawler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyResponse(t *testing.T) {
	t.Parallel()

	blocked := NewStatusSet([]int{http.StatusForbidden, http.StatusTooManyRequests})

	page, err := ClassifyResponse("https://shop.example/tv", "", http.StatusOK, "<html>ok</html>", blocked)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/tv", page.URL)
	require.Equal(t, "<html>ok</html>", page.HTML)

	page, err = ClassifyResponse("https://shop.example/tv", "https://shop.example/tv/", http.StatusTooManyRequests, "slow down", blocked)
	require.NoError(t, err)
	require.True(t, page.Blocked)
	require.Empty(t, page.HTML)
	require.Equal(t, "https://shop.example/tv/", page.URL)

	_, err = ClassifyResponse("https://shop.example/tv", "", http.StatusBadGateway, "", blocked)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, FetchHTTPStatus, fe.Kind)
	require.True(t, fe.Transient())

	_, err = ClassifyResponse("https://shop.example/tv", "", http.StatusOK, "  \n", blocked)
	require.True(t, errors.As(err, &fe))
	require.Equal(t, FetchInvalidContent, fe.Kind)
	require.False(t, IsTransientFetch(err))
}

func TestFetchErrorMessage(t *testing.T) {
	t.Parallel()

	err := &FetchError{Kind: FetchHTTPStatus, URL: "https://shop.example", StatusCode: 404, Err: errors.New("boom")}
	require.Equal(t, "fetch https://shop.example: http_status (status 404): boom", err.Error())
	require.False(t, err.Transient())

	pe := &PersistenceError{ExternalID: "abc", ProductURL: "https://shop.example/p", Err: ErrNotFound}
	require.ErrorIs(t, pe, ErrNotFound)
	require.Contains(t, pe.Error(), "persist product abc")
}
