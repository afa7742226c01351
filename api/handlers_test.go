/*
handlers_test.go - End-to-end tests through the HTTP router

Tests for:
- Identity header enforcement and role denials
- Screening recording with automatic classification and patient alerts
- Redemption with atomic point spending, including the shortfall response
- Exactly-once achievement unlocks over HTTP
- Direct messaging with receiver notifications
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vsla/health-engine/ledger"
	"github.com/vsla/health-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestServer(t *testing.T) (http.Handler, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewRouter(NewHandler(store, zap.NewNop())), store
}

func seedUser(t *testing.T, store *sqlite.Store, id string, role ledger.Role) ledger.UserID {
	t.Helper()
	u := &ledger.User{ID: ledger.UserID(id), Name: "User " + id, Role: role, IsActive: true}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u.ID
}

// do issues a request with identity headers and returns the recorder.
func do(t *testing.T, router http.Handler, method, path string, as ledger.UserID, role ledger.Role, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if as != "" {
		req.Header.Set("X-User-ID", string(as))
		req.Header.Set("X-User-Role", string(role))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

// =============================================================================
// IDENTITY & AUTHORIZATION TESTS
// =============================================================================

func TestAPI_MissingIdentityHeaders(t *testing.T) {
	// GIVEN: A request without X-User-ID / X-User-Role
	// WHEN: Hitting any /api route
	// THEN: 401 before the handler runs

	router, store := newTestServer(t)
	seedUser(t, store, "u-1", ledger.RoleYouth)

	rr := do(t, router, http.MethodGet, "/api/users/u-1/points", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAPI_YouthCannotReachOtherUsers(t *testing.T) {
	router, store := newTestServer(t)
	a := seedUser(t, store, "a", ledger.RoleYouth)
	seedUser(t, store, "b", ledger.RoleYouth)

	rr := do(t, router, http.MethodGet, "/api/users/b/points", a, ledger.RoleYouth, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/users", a, ledger.RoleYouth, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Own balance is fine.
	rr = do(t, router, http.MethodGet, "/api/users/a/points", a, ledger.RoleYouth, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAPI_NavigatorSeesYouthRecords(t *testing.T) {
	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	nav := seedUser(t, store, "n-1", ledger.RolePeerNavigator)

	rr := do(t, router, http.MethodGet, "/api/users/"+string(youth), nav, ledger.RolePeerNavigator, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

// =============================================================================
// SCREENING FLOW TESTS
// =============================================================================

func TestCreateScreening_AbnormalResult_AlertsPatient(t *testing.T) {
	// GIVEN: A staff member recording a screening for a youth
	// WHEN: The result reads as abnormal
	// THEN: The record is classified, flagged for follow-up, and the
	//       patient gets a high-priority alert

	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	staff := seedUser(t, store, "s-1", ledger.RoleStaff)

	rr := do(t, router, http.MethodPost, "/api/screenings", staff, ledger.RoleStaff,
		CreateScreeningRequest{
			PatientID: string(youth),
			TestType:  ledger.TestBloodPressure,
			Result:    "elevated",
		})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	dto := decodeBody[ScreeningDTO](t, rr)
	assert.Equal(t, string(ledger.ScreeningAbnormal), dto.Status)
	assert.True(t, dto.RequiresFollowUp)
	assert.Equal(t, string(staff), dto.ConductedBy)

	inbox := decodeBody[[]NotificationDTO](t,
		do(t, router, http.MethodGet, "/api/users/y-1/notifications", youth, ledger.RoleYouth, nil))
	require.Len(t, inbox, 1)
	assert.Equal(t, ledger.NotifyAbnormalResult, inbox[0].Type)
	assert.Equal(t, string(ledger.PriorityHigh), inbox[0].Priority)
	assert.Equal(t, dto.ID, inbox[0].RelatedID)

	count := decodeBody[map[string]int64](t,
		do(t, router, http.MethodGet, "/api/users/y-1/notifications/count", youth, ledger.RoleYouth, nil))
	assert.Equal(t, int64(1), count["unread"])
}

func TestCreateScreening_NormalResult_QuietNotification(t *testing.T) {
	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)

	// A youth records their own self-screening.
	rr := do(t, router, http.MethodPost, "/api/screenings", youth, ledger.RoleYouth,
		CreateScreeningRequest{TestType: ledger.TestBMI, Result: "normal"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	dto := decodeBody[ScreeningDTO](t, rr)
	assert.Equal(t, string(ledger.ScreeningNormal), dto.Status)
	assert.False(t, dto.RequiresFollowUp)
	assert.Empty(t, dto.ConductedBy, "self-screening has no conductor")

	inbox := decodeBody[[]NotificationDTO](t,
		do(t, router, http.MethodGet, "/api/users/y-1/notifications", youth, ledger.RoleYouth, nil))
	require.Len(t, inbox, 1)
	assert.Equal(t, ledger.NotifyScreeningResult, inbox[0].Type)
	assert.Equal(t, string(ledger.PriorityMedium), inbox[0].Priority)
}

func TestCreateScreening_YouthForOthers_Forbidden(t *testing.T) {
	router, store := newTestServer(t)
	a := seedUser(t, store, "a", ledger.RoleYouth)
	seedUser(t, store, "b", ledger.RoleYouth)

	rr := do(t, router, http.MethodPost, "/api/screenings", a, ledger.RoleYouth,
		CreateScreeningRequest{PatientID: "b", TestType: ledger.TestBMI})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestListScreenings_YouthScopedToSelf(t *testing.T) {
	// GIVEN: Screenings for two youths
	// WHEN: One youth lists screenings
	// THEN: Only their own come back, whatever filters say

	router, store := newTestServer(t)
	a := seedUser(t, store, "a", ledger.RoleYouth)
	b := seedUser(t, store, "b", ledger.RoleYouth)
	ctx := context.Background()

	for _, patient := range []ledger.UserID{a, b} {
		require.NoError(t, store.CreateScreening(ctx, &ledger.ScreeningRecord{
			PatientID: patient, TestType: ledger.TestBMI, Status: ledger.ScreeningPending,
		}))
	}

	list := decodeBody[[]ScreeningDTO](t,
		do(t, router, http.MethodGet, "/api/screenings?patient_id=b", a, ledger.RoleYouth, nil))
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].PatientID)
}

func TestScreeningStatistics_StaffOnly(t *testing.T) {
	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	staff := seedUser(t, store, "s-1", ledger.RoleStaff)

	rr := do(t, router, http.MethodGet, "/api/screenings/statistics", youth, ledger.RoleYouth, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodGet, "/api/screenings/statistics", staff, ledger.RoleStaff, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

// =============================================================================
// POINTS & REDEMPTION TESTS
// =============================================================================

func TestRedeem_InsufficientPoints_ShortfallBody(t *testing.T) {
	// GIVEN: A youth with 20 points and a 50-point reward
	// WHEN: Redeeming
	// THEN: 409 with the shortfall, and no points move

	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	staff := seedUser(t, store, "s-1", ledger.RoleStaff)
	ctx := context.Background()

	item := &ledger.RewardItem{
		Name: "Data Bundle", PointsRequired: 50, RedemptionCode: "DATA-1",
		ExpiryDays: 30, IsAvailable: true,
	}
	require.NoError(t, store.CreateRewardItem(ctx, item))

	rr := do(t, router, http.MethodPost, "/api/users/y-1/points/credit", staff, ledger.RoleStaff,
		CreditPointsRequest{Points: 20, Reason: "screening attendance"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodPost, "/api/rewards/"+item.ID+"/redeem", youth, ledger.RoleYouth, nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	body := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "insufficient points", body["error"])
	assert.Equal(t, float64(50), body["points_required"])
	assert.Equal(t, float64(20), body["points_balance"])
	assert.Equal(t, float64(30), body["shortfall"])

	balance := decodeBody[map[string]any](t,
		do(t, router, http.MethodGet, "/api/users/y-1/points", youth, ledger.RoleYouth, nil))
	assert.Equal(t, float64(20), balance["points"])
}

func TestRedeem_SpendsAndRecords(t *testing.T) {
	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	staff := seedUser(t, store, "s-1", ledger.RoleStaff)
	ctx := context.Background()

	item := &ledger.RewardItem{
		Name: "Transport Voucher", PointsRequired: 50, RedemptionCode: "RIDE-1",
		ExpiryDays: 14, IsAvailable: true,
	}
	require.NoError(t, store.CreateRewardItem(ctx, item))

	rr := do(t, router, http.MethodPost, "/api/users/y-1/points/credit", staff, ledger.RoleStaff,
		CreditPointsRequest{Points: 100, Reason: "navigation sessions"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/rewards/"+item.ID+"/redeem", youth, ledger.RoleYouth, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	dto := decodeBody[RedemptionDTO](t, rr)
	assert.Equal(t, string(ledger.RedemptionActive), dto.Status)
	assert.Equal(t, int64(50), dto.PointsSpent)
	assert.False(t, dto.IsExpired)

	balance := decodeBody[map[string]any](t,
		do(t, router, http.MethodGet, "/api/users/y-1/points", youth, ledger.RoleYouth, nil))
	assert.Equal(t, float64(50), balance["points"])

	list := decodeBody[[]RedemptionDTO](t,
		do(t, router, http.MethodGet, "/api/users/y-1/redemptions", youth, ledger.RoleYouth, nil))
	require.Len(t, list, 1)
	assert.Equal(t, dto.ID, list[0].ID)
}

func TestUseRedemption_VendorAllowed(t *testing.T) {
	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	staff := seedUser(t, store, "s-1", ledger.RoleStaff)
	vendor := seedUser(t, store, "v-1", ledger.RoleVendor)
	ctx := context.Background()

	item := &ledger.RewardItem{
		Name: "Snack", PointsRequired: 10, RedemptionCode: "SNACK-1",
		ExpiryDays: 30, IsAvailable: true,
	}
	require.NoError(t, store.CreateRewardItem(ctx, item))
	do(t, router, http.MethodPost, "/api/users/y-1/points/credit", staff, ledger.RoleStaff,
		CreditPointsRequest{Points: 10})
	redemption := decodeBody[RedemptionDTO](t,
		do(t, router, http.MethodPost, "/api/rewards/"+item.ID+"/redeem", youth, ledger.RoleYouth, nil))

	rr := do(t, router, http.MethodPost, "/api/redemptions/"+redemption.ID+"/use",
		vendor, ledger.RoleVendor, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	used := decodeBody[RedemptionDTO](t, rr)
	assert.Equal(t, string(ledger.RedemptionUsed), used.Status)
	assert.NotEmpty(t, used.UsedAt)
}

// =============================================================================
// ACHIEVEMENT TESTS
// =============================================================================

func TestUnlock_ExactlyOnceOverHTTP(t *testing.T) {
	// GIVEN: An achievement worth 25 points
	// WHEN: The same youth unlocks it twice
	// THEN: One credit, second call reports unlocked=false

	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	achievement := &ledger.Achievement{Name: "First Screening", PointsRewarded: 25}
	require.NoError(t, store.CreateAchievement(context.Background(), achievement))

	rr := do(t, router, http.MethodPost, "/api/achievements/"+achievement.ID+"/unlock",
		youth, ledger.RoleYouth, UnlockRequest{})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decodeBody[map[string]any](t, rr)
	assert.Equal(t, true, first["unlocked"])
	assert.NotEmpty(t, first["unlock_id"])

	rr = do(t, router, http.MethodPost, "/api/achievements/"+achievement.ID+"/unlock",
		youth, ledger.RoleYouth, UnlockRequest{})
	require.Equal(t, http.StatusOK, rr.Code)
	second := decodeBody[map[string]any](t, rr)
	assert.Equal(t, false, second["unlocked"])

	balance := decodeBody[map[string]any](t,
		do(t, router, http.MethodGet, "/api/users/y-1/points", youth, ledger.RoleYouth, nil))
	assert.Equal(t, float64(25), balance["points"])
}

// =============================================================================
// MESSAGING TESTS
// =============================================================================

func TestMessaging_SendReadAndNotify(t *testing.T) {
	// GIVEN: A youth and their navigator
	// WHEN: The youth sends a message
	// THEN: The navigator sees the thread, gets an inbox alert, and only
	//       the navigator can mark the message read

	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	nav := seedUser(t, store, "n-1", ledger.RolePeerNavigator)

	rr := do(t, router, http.MethodPost, "/api/messages", youth, ledger.RoleYouth,
		SendMessageRequest{ReceiverID: string(nav), Body: "Can we meet this week?"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	sent := decodeBody[MessageDTO](t, rr)

	thread := decodeBody[[]MessageDTO](t,
		do(t, router, http.MethodGet, "/api/messages/conversation?with=y-1",
			nav, ledger.RolePeerNavigator, nil))
	require.Len(t, thread, 1)
	assert.Equal(t, "Can we meet this week?", thread[0].Body)

	inbox := decodeBody[[]NotificationDTO](t,
		do(t, router, http.MethodGet, "/api/users/n-1/notifications",
			nav, ledger.RolePeerNavigator, nil))
	require.Len(t, inbox, 1)
	assert.Equal(t, ledger.NotifyMessage, inbox[0].Type)
	assert.Equal(t, sent.ID, inbox[0].RelatedID)

	// Sender cannot mark their own outgoing message read.
	rr = do(t, router, http.MethodPost, "/api/messages/"+sent.ID+"/read",
		youth, ledger.RoleYouth, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/messages/"+sent.ID+"/read",
		nav, ledger.RolePeerNavigator, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	read := decodeBody[MessageDTO](t, rr)
	assert.True(t, read.IsRead)
	assert.NotEmpty(t, read.ReadAt)
}

func TestSendMessage_ToSelfRejected(t *testing.T) {
	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)

	rr := do(t, router, http.MethodPost, "/api/messages", youth, ledger.RoleYouth,
		SendMessageRequest{ReceiverID: "y-1", Body: "hello me"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// NOTIFICATION INBOX TESTS
// =============================================================================

func TestNotify_TemplateFlow(t *testing.T) {
	// GIVEN: A staff-managed template
	// WHEN: Dispatching with variables
	// THEN: The rendered notification lands in the inbox

	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	staff := seedUser(t, store, "s-1", ledger.RoleStaff)

	rr := do(t, router, http.MethodPost, "/api/templates", staff, ledger.RoleStaff,
		SaveTemplateRequest{
			Name:            "appointment_reminder",
			TitleTemplate:   "Appointment reminder",
			MessageTemplate: "Hi {name}, you have an appointment on {date}",
			Type:            ledger.NotifyAppointment,
			Variables:       []string{"name", "date"},
		})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodPost, "/api/notify", staff, ledger.RoleStaff,
		NotifyRequest{
			UserID:    "y-1",
			Template:  "appointment_reminder",
			Variables: map[string]string{"name": "Amina", "date": "Tuesday"},
		})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	n := decodeBody[NotificationDTO](t, rr)
	assert.Equal(t, "Hi Amina, you have an appointment on Tuesday", n.Message)

	inbox := decodeBody[[]NotificationDTO](t,
		do(t, router, http.MethodGet, "/api/users/y-1/notifications", youth, ledger.RoleYouth, nil))
	require.Len(t, inbox, 1)
}

func TestMarkNotificationRead_OwnerOnly(t *testing.T) {
	router, store := newTestServer(t)
	youth := seedUser(t, store, "y-1", ledger.RoleYouth)
	other := seedUser(t, store, "y-2", ledger.RoleYouth)
	staff := seedUser(t, store, "s-1", ledger.RoleStaff)

	rr := do(t, router, http.MethodPost, "/api/notify", staff, ledger.RoleStaff,
		NotifyRequest{UserID: "y-1", Title: "Hello", Message: "Welcome", Type: ledger.NotifySystem})
	require.Equal(t, http.StatusCreated, rr.Code)
	n := decodeBody[NotificationDTO](t, rr)

	rr = do(t, router, http.MethodPost, "/api/notifications/"+n.ID+"/read",
		other, ledger.RoleYouth, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodPost, "/api/notifications/"+n.ID+"/read",
		youth, ledger.RoleYouth, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	read := decodeBody[NotificationDTO](t, rr)
	assert.True(t, read.IsRead)

	count := decodeBody[map[string]int64](t,
		do(t, router, http.MethodGet, "/api/users/y-1/notifications/count",
			youth, ledger.RoleYouth, nil))
	assert.Equal(t, int64(0), count["unread"])
}
