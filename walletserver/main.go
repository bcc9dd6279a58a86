package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/storj-archived/core-sub000/walletserver/config"
	"github.com/storj-archived/core-sub000/walletserver/controllers"
	"github.com/storj-archived/core-sub000/walletserver/routes"
	"github.com/storj-archived/core-sub000/walletserver/services"
)

func main() {
	if err := config.Load(); err != nil {
		logrus.Warnf("config: %v", err)
	}
	svc := services.NewService()
	ctrl := controllers.NewWalletController(svc)

	r := mux.NewRouter()
	routes.Register(r, ctrl)

	logrus.Infof("wallet server listening on %s", config.AppConfig.Port)
	if err := http.ListenAndServe(":"+config.AppConfig.Port, r); err != nil {
		logrus.Fatal(err)
	}
}
