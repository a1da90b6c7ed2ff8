package eligibility

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chartwellhealth/provider-portal/internal/app"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(app.GatewayConfig{BaseURL: server.URL, APIKey: "test-key"})
	require.NoError(t, err)
	return client
}

func TestCheckEligibilitySuccess(t *testing.T) {
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/ao-verifications", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var req checkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "1234567890", req.NPI)
		require.Equal(t, "900112222", req.SSN)

		_ = json.NewEncoder(w).Encode(Result{
			Success:      true,
			AoRole:       &AoRole{RegistryParticipantID: "PAC-42", RoleCode: "10"},
			HasOrgWaiver: true,
		})
	})

	result, err := client.CheckEligibility(context.Background(), "1234567890", "900-11-2222")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "PAC-42", result.AoRole.RegistryParticipantID)
	require.True(t, result.HasOrgWaiver)
	require.False(t, result.HasAoWaiver)
}

func TestCheckEligibilityClientRejection(t *testing.T) {
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{Success: false, FailureReason: FailureNotAuthorizedOfficial})
	})

	result, err := client.CheckEligibility(context.Background(), "1234567890", "900112222")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, FailureNotAuthorizedOfficial, result.FailureReason)
	require.False(t, result.FailureReason.IsServerError())
}

func TestCheckEligibilityGatewayOutage(t *testing.T) {
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	result, err := client.CheckEligibility(context.Background(), "1234567890", "900112222")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, FailureAPIGateway, result.FailureReason)
	require.True(t, result.FailureReason.IsServerError())
}

func TestCheckEligibilityUnreachableGateway(t *testing.T) {
	client, err := NewClient(app.GatewayConfig{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	result, err := client.CheckEligibility(context.Background(), "1234567890", "900112222")
	require.NoError(t, err)
	require.Equal(t, FailureAPIGateway, result.FailureReason)
}

func TestCheckEligibilityMissingEndpoint(t *testing.T) {
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	result, err := client.CheckEligibility(context.Background(), "1234567890", "900112222")
	require.NoError(t, err)
	require.Equal(t, FailureInvalidEndpoint, result.FailureReason)
}

func TestCheckEligibilityMalformedPayload(t *testing.T) {
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not-json"))
	})

	result, err := client.CheckEligibility(context.Background(), "1234567890", "900112222")
	require.NoError(t, err)
	require.Equal(t, FailureUnexpected, result.FailureReason)
}

func TestCheckEligibilityFailureWithoutReason(t *testing.T) {
	client := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{Success: false})
	})

	result, err := client.CheckEligibility(context.Background(), "1234567890", "900112222")
	require.NoError(t, err)
	require.Equal(t, FailureUnexpected, result.FailureReason)
}

func TestNormalizeSSN(t *testing.T) {
	require.Equal(t, "900112222", NormalizeSSN("900-11-2222"))
	require.Equal(t, "900112222", NormalizeSSN("900 11 2222"))
	require.Equal(t, "900112222", NormalizeSSN("900112222"))
	require.Equal(t, "", NormalizeSSN(""))
}

func TestFailureReasonServerErrorSet(t *testing.T) {
	serverReasons := []FailureReason{FailureAPIGateway, FailureInvalidEndpoint, FailureUnexpected}
	for _, reason := range serverReasons {
		require.True(t, reason.IsServerError(), string(reason))
	}

	clientReasons := []FailureReason{
		FailureBadNPI, FailureNoApprovedEnrollment, FailureNotAuthorizedOfficial,
		FailureAoMedSanctions, FailureOrgMedSanctions, FailureNone,
	}
	for _, reason := range clientReasons {
		require.False(t, reason.IsServerError(), string(reason))
	}
}
