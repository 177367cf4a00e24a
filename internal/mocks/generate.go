package mocks

//go:generate mockgen -destination gpu.go -package mocks github.com/vkngwrapper/conveyor/gpu Buffer,Image,Device
