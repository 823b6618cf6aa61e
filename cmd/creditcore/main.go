package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/lumilearn/creditcore/internal/clock"
	"github.com/lumilearn/creditcore/internal/config"
	"github.com/lumilearn/creditcore/internal/credit"
	"github.com/lumilearn/creditcore/internal/insight"
	"github.com/lumilearn/creditcore/internal/migration"
	"github.com/lumilearn/creditcore/internal/observability"
	"github.com/lumilearn/creditcore/internal/providers/ai"
	"github.com/lumilearn/creditcore/internal/ratelimit"
	"github.com/lumilearn/creditcore/internal/server"
	"github.com/lumilearn/creditcore/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		credit.Module,
		ratelimit.Module,
		ai.Module,
		insight.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
