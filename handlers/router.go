package handlers

import (
	"net/http"
	"time"

	"github.com/aj9599/submeter-billing/metrics"
	"github.com/aj9599/submeter-billing/middleware"
	"github.com/aj9599/submeter-billing/services"
	"github.com/gorilla/mux"
)

// Services is everything the HTTP layer calls into.
type Services struct {
	Auth       *services.AuthService
	Tenants    *services.TenantService
	Readings   *services.ReadingService
	Generation *services.GenerationService
	Bills      *services.BillService
	Reconcile  *services.ReconcileService
	Statements *services.StatementService
	Summaries  *services.SummaryService
	Profiles   *services.ProfileService
}

// NewRouter mounts the API. filesDir, when set, is served under /files/ for
// documents kept by the local store.
func NewRouter(svc Services, filesDir string) *mux.Router {
	authHandler := NewAuthHandler(svc.Auth)
	tenantHandler := NewTenantHandler(svc.Tenants)
	readingHandler := NewReadingHandler(svc.Readings)
	generationHandler := NewGenerationHandler(svc.Generation)
	billHandler := NewBillHandler(svc.Bills)
	reconcileHandler := NewReconcileHandler(svc.Reconcile)
	statementHandler := NewStatementHandler(svc.Statements)
	summaryHandler := NewSummaryHandler(svc.Summaries, svc.Profiles)

	r := mux.NewRouter()

	r.Use(middleware.Recover)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(middleware.Metrics)

	r.HandleFunc("/api/health", healthCheck).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")
	if filesDir != "" {
		r.PathPrefix("/files/").Handler(http.StripPrefix("/files/", http.FileServer(http.Dir(filesDir)))).Methods("GET")
	}

	r.HandleFunc("/api/auth/register-admin", authHandler.RegisterAdmin).Methods("POST")
	r.HandleFunc("/api/auth/register-staff", authHandler.RegisterStaff).Methods("POST")
	r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/auth/forgot-password", authHandler.ForgotPassword).Methods("POST")
	r.HandleFunc("/api/auth/reset-password", authHandler.ResetPassword).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(svc.Auth))

	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(h)
	}

	api.HandleFunc("/auth/me", authHandler.Me).Methods("GET")
	api.HandleFunc("/auth/change-password", authHandler.ChangePassword).Methods("POST")

	api.Handle("/tenants/add", admin(tenantHandler.Create)).Methods("POST")
	api.HandleFunc("/tenants/{adminId:[0-9]+}", tenantHandler.List).Methods("GET")
	api.Handle("/tenants/{id:[0-9]+}", admin(tenantHandler.Update)).Methods("PUT")
	api.Handle("/tenants/{id:[0-9]+}", admin(tenantHandler.Delete)).Methods("DELETE")

	api.HandleFunc("/readings/add", readingHandler.Add).Methods("POST")
	api.HandleFunc("/readings/mine", readingHandler.Mine).Methods("GET")
	api.Handle("/readings", admin(readingHandler.List)).Methods("GET")
	api.Handle("/readings/export", admin(readingHandler.Export)).Methods("GET")
	api.Handle("/readings/approve/{id:[0-9]+}", admin(readingHandler.Approve)).Methods("PUT")
	api.Handle("/readings/reject/{id:[0-9]+}", admin(readingHandler.Reject)).Methods("PUT")

	api.Handle("/reconcile/{adminId:[0-9]+}", admin(reconcileHandler.Reconcile)).Methods("GET")

	api.Handle("/solar/add", admin(generationHandler.AddSolar)).Methods("POST")
	api.Handle("/solar/history", admin(generationHandler.SolarHistory)).Methods("GET")
	api.Handle("/dg/add-log", admin(generationHandler.AddDGLog)).Methods("POST")
	api.Handle("/dg/monthly-total", admin(generationHandler.DGMonthlyTotal)).Methods("GET")
	api.Handle("/dg/units", admin(generationHandler.RegisterDGUnit)).Methods("POST")
	api.Handle("/dg/poll", admin(generationHandler.PollDG)).Methods("POST")

	api.Handle("/bill/add", admin(billHandler.Add)).Methods("POST")
	api.Handle("/bill/history/{adminId:[0-9]+}", admin(billHandler.History)).Methods("GET")

	api.Handle("/statement/preview", admin(statementHandler.Preview)).Methods("GET")
	api.Handle("/statement/save", admin(statementHandler.Save)).Methods("POST")
	api.Handle("/statement/list", admin(statementHandler.List)).Methods("GET")
	api.Handle("/statement/{id:[0-9]+}", admin(statementHandler.Get)).Methods("GET")
	api.Handle("/statement/{id:[0-9]+}", admin(statementHandler.Delete)).Methods("DELETE")

	api.Handle("/summary/report", admin(summaryHandler.Report)).Methods("GET")
	api.Handle("/summary/{adminId:[0-9]+}", admin(summaryHandler.List)).Methods("GET")

	api.Handle("/profile/payment", admin(summaryHandler.UpdatePaymentProfile)).Methods("PUT")

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}
