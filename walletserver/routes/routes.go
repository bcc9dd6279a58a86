package routes

import (
	"github.com/gorilla/mux"

	"github.com/storj-archived/core-sub000/walletserver/controllers"
	"github.com/storj-archived/core-sub000/walletserver/middleware"
)

func Register(r *mux.Router, wc *controllers.WalletController) {
	r.Use(middleware.Logger)
	r.HandleFunc("/api/wallet/create", wc.Create).Methods("GET")
	r.HandleFunc("/api/wallet/import", wc.Import).Methods("POST")
	r.HandleFunc("/api/wallet/identity", wc.Identity).Methods("POST")
	r.HandleFunc("/api/wallet/sign", wc.Sign).Methods("POST")
}
