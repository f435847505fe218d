package courtesy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOutcomeSuccessMatchesStatus(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	req := validRequest()

	statuses := []Status{
		StatusProcessing, StatusSuccess, StatusValidationError, StatusAvailabilityError,
		StatusRenderError, StatusDeliveryError, StatusInternalError, StatusCancelled, Status("BOGUS"),
	}
	for _, status := range statuses {
		o := Failed(req, status, "msg", "detail", at)
		require.False(t, o.Success, status)
		require.NotEqual(t, StatusSuccess, o.Status, status)
		require.True(t, o.Status.Valid(), status)
	}

	ok := Succeeded(req, "done", at)
	require.True(t, ok.Success)
	require.Equal(t, StatusSuccess, ok.Status)
	require.Equal(t, "Online", ok.Place)
	require.Equal(t, 5, ok.Quantity)
}

func TestOutcomeDerivationsCopy(t *testing.T) {
	t.Parallel()

	base := Succeeded(validRequest(), "done", time.Now())
	derived := base.WithCorrelation("REQ_1", 1500*time.Millisecond).WithArtifact(2048, 5).WithNotes("n")

	require.Empty(t, base.RequestID)
	require.Zero(t, base.SizeBytes)
	require.Equal(t, "REQ_1", derived.RequestID)
	require.Equal(t, int64(1500), derived.DurationMs)
	require.Equal(t, int64(2048), derived.SizeBytes)
	require.Equal(t, 5, derived.PageCount)
}

func TestOutcomeEncodeRejectsInconsistentPair(t *testing.T) {
	t.Parallel()

	o := &Outcome{Success: true, Status: StatusDeliveryError}
	_, err := o.Encode()
	require.Error(t, err)

	var nilOutcome *Outcome
	_, err = nilOutcome.Encode()
	require.Error(t, err)
}

func TestDecodeRequest(t *testing.T) {
	t.Parallel()

	req, err := DecodeRequest([]byte(`{"place":"Online","quantity":2,"email":"a@b.com","requester":"Ana","destination":"X","printValidity":"2025-01-31","format":"pdf"}`))
	require.NoError(t, err)
	require.Equal(t, NewDate(2025, 1, 31), req.PrintValidity)
	require.Equal(t, "31/01/2025", req.PrintValidity.Display())
	require.Equal(t, "20250131", req.PrintValidity.Compact())

	req, err = DecodeRequest([]byte("null"))
	require.NoError(t, err)
	require.Nil(t, req)

	_, err = DecodeRequest([]byte(`{"printValidity":"31/01/2025"}`))
	require.Error(t, err)
}

func TestPartitionKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ana@b.com", (&Request{Email: " Ana@B.com "}).PartitionKey())
	require.Equal(t, "anon", (&Request{}).PartitionKey())
	var nilReq *Request
	require.Equal(t, "anon", nilReq.PartitionKey())
}
