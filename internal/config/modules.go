package config

import (
	_ "github.com/any-hub/content-hub/internal/pkgtype/generic"
	_ "github.com/any-hub/content-hub/internal/pkgtype/golang"
	_ "github.com/any-hub/content-hub/internal/pkgtype/maven"
	_ "github.com/any-hub/content-hub/internal/pkgtype/npm"
)
