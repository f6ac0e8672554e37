package camera

import (
	"go.uber.org/zap"
)

// ProductType identifies a camera variant. The values double as the
// path segment of the media thumbnail template, which is why the
// generic variant is the empty string.
type ProductType string

const (
	ProductDefault  ProductType = ""
	ProductMini     ProductType = "owl"
	ProductDoorbell ProductType = "lotus"
)

// ProductFromDeviceType maps a discovery device type string onto a
// variant. Unknown types fall back to the generic camera.
func ProductFromDeviceType(deviceType string) ProductType {
	switch deviceType {
	case "mini", "owl", "hawk":
		return ProductMini
	case "doorbell", "lotus":
		return ProductDoorbell
	default:
		return ProductDefault
	}
}

var constructors = map[ProductType]func(API, Owner, *zap.Logger) Camera{
	ProductDefault:  func(api API, owner Owner, logger *zap.Logger) Camera { return newBaseCamera(api, owner, logger) },
	ProductMini:     func(api API, owner Owner, logger *zap.Logger) Camera { return newMiniCamera(api, owner, logger) },
	ProductDoorbell: func(api API, owner Owner, logger *zap.Logger) Camera { return newDoorbellCamera(api, owner, logger) },
}

// New builds a camera of the given variant. Unknown variants fall back
// to the generic constructor.
func New(product ProductType, api API, owner Owner, logger *zap.Logger) Camera {
	ctor, ok := constructors[product]
	if !ok {
		ctor = constructors[ProductDefault]
	}
	return ctor(api, owner, logger)
}
