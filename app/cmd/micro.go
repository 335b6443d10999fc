package cmd

import (
	"github.com/wabridge/pkg/config"
	"github.com/wabridge/pkg/database"
	"github.com/wabridge/pkg/logger"
	"github.com/wabridge/pkg/server"
	"github.com/wabridge/pkg/utils"
)

func StartApp() {
	config := config.InitConfig()
	utils.LoadEnv()
	utils.RegisterValidations()
	logger.Init(config.Logger)
	database.InitDB(config.Database)
	server.LaunchHttpServer(config)
}
