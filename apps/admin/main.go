package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/scratchcard"
	"github.com/trezcool/masomo-results/core/user"
	emailsvc "github.com/trezcool/masomo-results/services/email"
	logsvc "github.com/trezcool/masomo-results/services/logger"
	"github.com/trezcool/masomo-results/storage"
)

func main() {
	conf := core.NewConfig()
	std := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(std, conf)

	backend, err := storage.Open(context.Background(), conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up %s storage: %v", conf.StorageDriver, err), err)
	}

	cli := commandLine{
		usrSvc:  user.NewService(backend.Users),
		cardSvc: scratchcard.NewService(backend.Cards, emailsvc.NewConsoleService(std, logger, conf), conf),
		out:     os.Stdout,
	}
	if db := backend.DB(); db != nil {
		cli.db = db.DB
	}

	err = cli.run(os.Args)
	_ = backend.Close()
	logger.Close()
	if err != nil {
		if err != errHelp {
			std.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
