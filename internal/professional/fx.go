package professional

import (
	"github.com/smallbiznis/praxis/internal/professional/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("professional.repository",
	fx.Provide(repository.Provide),
)
