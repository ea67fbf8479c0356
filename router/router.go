package router

import (
	"net/http"

	handlers "texsync/handler"
	docHandler "texsync/internal/document"
	"texsync/internal/document/repository"
	"texsync/internal/document/service"
	"texsync/middleware"
	"texsync/socket"
)

// Setup builds the local API of the offline client.
func Setup(docService *service.DocumentService, hub *socket.Hub) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket.ServeWs(hub, w, r)
	}))

	h := docHandler.NewDocumentHandler(docService)
	mux.HandleFunc("/api/documents", h.GetDocuments)
	mux.HandleFunc("/api/documents/get", h.GetDocument)
	mux.HandleFunc("/api/documents/save", h.SaveDocument)
	mux.HandleFunc("/api/documents/delete", h.DeleteDocument)
	mux.HandleFunc("/api/sync/pending", h.GetPendingChanges)
	mux.HandleFunc("/api/sync/dead-letters", h.GetDeadLetters)
	mux.HandleFunc("/api/sync/dead-letters/requeue", h.RequeueDeadLetters)
	mux.HandleFunc("/api/sync/trigger", h.TriggerSync)
	mux.HandleFunc("/api/connectivity", h.Connectivity)

	return middleware.CORSMiddleware(mux)
}

// SetupSyncServer builds the routes of the reference sync receiver.
func SetupSyncServer(repo *repository.DocumentRepository, jwtSecret string) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.AuthMiddleware(jwtSecret)

	h := handlers.NewSyncHandler(repo)
	mux.Handle("/api/sync", auth(http.HandlerFunc(h.ApplyChange)))
	mux.Handle("/api/documents", auth(http.HandlerFunc(h.GetDocuments)))
	mux.HandleFunc("/healthz", handlers.Health)

	return middleware.CORSMiddleware(mux)
}
