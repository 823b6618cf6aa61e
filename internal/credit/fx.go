package credit

import (
	"github.com/lumilearn/creditcore/internal/credit/repository"
	"github.com/lumilearn/creditcore/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit",
	fx.Provide(repository.NewLedgerStore),
	fx.Provide(service.NewService),
)
