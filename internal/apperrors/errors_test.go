package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/homeaudio/sonos-gateway/internal/soap"
)

func TestEnsure_MapsUPnPFaults(t *testing.T) {
	cases := []struct {
		code   string
		status int
		kind   Kind
	}{
		{"402", http.StatusBadRequest, KindUPnPTransient},
		{"701", http.StatusConflict, KindUPnPTransient},
		{"714", http.StatusNotFound, KindUPnPPermanent},
		{"718", http.StatusConflict, KindUPnPPermanent},
		{"800", http.StatusConflict, KindUPnPPermanent},
		{"1023", http.StatusConflict, KindUPnPPermanent},
		{"401", http.StatusInternalServerError, KindUPnPPermanent},
	}
	for _, tc := range cases {
		mapped := Ensure(&soap.Fault{Action: "Play", Code: tc.code})
		require.Equal(t, tc.status, mapped.StatusCode, "code %s", tc.code)
		require.Equal(t, tc.kind, mapped.Kind, "code %s", tc.code)
	}
}

func TestEnsure_MapsWrappedFault(t *testing.T) {
	fault := &soap.Fault{Action: "BecomeCoordinatorOfStandaloneGroup", Code: "800", Description: "Command not supported"}
	mapped := Ensure(fmt.Errorf("leave group: %w", fault))
	require.Equal(t, http.StatusConflict, mapped.StatusCode)
	require.Equal(t, KindUPnPPermanent, mapped.Kind)
	require.Contains(t, mapped.Message, "800")
	require.Contains(t, mapped.Message, "Command not supported")
	require.ErrorIs(t, mapped, fault)
}

func TestEnsure_FaultWithoutVendorCodeIsInternal(t *testing.T) {
	mapped := Ensure(&soap.Fault{Action: "Play", HTTPStatus: 500})
	require.Equal(t, KindInternal, mapped.Kind)
	require.Equal(t, http.StatusInternalServerError, mapped.StatusCode)
}

func TestEnsure_PassThroughAndFallback(t *testing.T) {
	appErr := RoomNotFound("Kitchen")
	require.Same(t, appErr, Ensure(appErr))

	mapped := Ensure(errors.New("boom"))
	require.Equal(t, KindInternal, mapped.Kind)
	require.Equal(t, http.StatusInternalServerError, mapped.StatusCode)

	require.Equal(t, KindInternal, Ensure(nil).Kind)
}

func TestFromUPnP_UnknownCode(t *testing.T) {
	mapped := FromUPnP("9999", "", false)
	require.Equal(t, http.StatusInternalServerError, mapped.StatusCode)
	require.Equal(t, KindUPnPPermanent, mapped.Kind)
}
