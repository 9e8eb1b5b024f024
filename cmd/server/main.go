package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/app"
	"github.com/openhall/hiringhall/internal/handlers"
)

func main() {
	service, err := app.NewService("config.toml")
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	referral := handlers.NewReferralHandler(service)
	dispatch := handlers.NewDispatchHandler(service)

	http.HandleFunc("GET /api/v1/books", referral.HandleBookSummary)
	http.HandleFunc("POST /api/v1/books", referral.HandleCreateBook)
	http.HandleFunc("POST /api/v1/books/{book}/status", referral.HandleBookStatus)
	http.HandleFunc("GET /api/v1/books/{book}/queue", referral.HandleQueue)
	http.HandleFunc("GET /api/v1/books/{book}/stats", dispatch.HandleBookStats)
	http.HandleFunc("POST /api/v1/books/{book}/registrations", referral.HandleRegister)
	http.HandleFunc("POST /api/v1/books/{book}/resign", referral.HandleReSign)
	http.HandleFunc("POST /api/v1/books/{book}/withdraw", referral.HandleWithdraw)

	http.HandleFunc("POST /api/v1/requests", dispatch.HandleSubmitRequest)
	http.HandleFunc("POST /api/v1/requests/{id}/cancel", dispatch.HandleCancelRequest)
	http.HandleFunc("POST /api/v1/requests/{id}/dispatch", dispatch.HandleDispatch)
	http.HandleFunc("POST /api/v1/requests/{id}/bids", dispatch.HandleSubmitBid)
	http.HandleFunc("POST /api/v1/requests/{id}/bids/withdraw", dispatch.HandleWithdrawBid)

	http.HandleFunc("POST /api/v1/dispatches/{id}/terminate", dispatch.HandleTerminate)

	http.HandleFunc("GET /api/v1/members/{member}/registrations", referral.HandleMemberRegistrations)
	http.HandleFunc("GET /api/v1/members/{member}/dispatches", dispatch.HandleMemberDispatches)
	http.HandleFunc("POST /api/v1/members/{member}/exemptions", referral.HandleOpenExemption)
	http.HandleFunc("POST /api/v1/members/{member}/exemptions/end", referral.HandleEndExemption)
	http.HandleFunc("POST /api/v1/members/{member}/token", dispatch.HandlePortalToken)

	http.HandleFunc("GET /api/v1/audit/{entity_type}/{entity_id}", referral.HandleAuditTrail)

	http.Handle("/metrics", promhttp.Handler())

	logger.Info.Printf("Starting hiringhall server on %s", service.Config.Server.Port)
	logger.Debug.Println("Requiring headers:")
	for _, h := range service.Config.API.RequiredHeaders {
		logger.Debug.Printf("  %s: %s", h.Name, h.Value)
	}
	if err := http.ListenAndServe(service.Config.Server.Port, nil); err != nil {
		logger.Error.Fatalf("Hiringhall server failed: %v", err)
	}
}
