package tokens

//go:generate mockgen -package mocks -destination mocks/minter.go . Minter
