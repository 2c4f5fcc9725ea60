// Package types provides core types shared across the swarmflow engine.
// This package has ZERO dependencies on other swarmflow packages to avoid
// circular imports. All other packages should import types from here.
package types
