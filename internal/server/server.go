package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"marketsync/internal/cache"
	"marketsync/internal/config"
	"marketsync/internal/controller"
	"marketsync/internal/database"
	"marketsync/internal/orchestrator"
	"marketsync/internal/rabbitmq"
)

type Server struct {
	sc     controller.ServerController
	jc     controller.JobController
	cc     controller.CatalogController
	config config.Config
}

func New(config config.Config, db database.Database, cache cache.Cache, rabbit rabbitmq.Client, registry orchestrator.RunnerRegistry) *http.Server {
	sc := controller.NewServer(db, cache, rabbit)

	jc := controller.NewJobController(db, rabbit, config.Jobs, registry)
	jc.ProcessJobs(context.Background()) // Starts consuming jobs from the queue

	cc := controller.NewCatalogController(db, db, cache)

	server := Server{
		sc:     sc,
		jc:     jc,
		cc:     cc,
		config: config,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", config.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
