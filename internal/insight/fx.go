package insight

import (
	"github.com/lumilearn/creditcore/internal/insight/service"
	"go.uber.org/fx"
)

var Module = fx.Module("insight",
	fx.Provide(service.NewService),
)
