// Package vulkan implements gpu.Device on top of a vkngwrapper core1_0 device. Every buffer and
// image gets a dedicated memory allocation, host visible buffers stay mapped for their whole
// lifetime, and device-side copies are recorded into one-shot command buffers.
package vulkan

import (
	"context"
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/conveyor/gpu"
	"github.com/vkngwrapper/conveyor/memutils"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// ErrForeignResource is returned when a resource created by a different backend is passed to this Device
var ErrForeignResource error = errors.New("resource was not created by the vulkan backend")

// ErrNotMappable is returned when the host tries to read or write a buffer that lives in device-local memory
var ErrNotMappable error = errors.New("buffer is not host mappable")

// CreateOptions contains optional settings when creating a Device
type CreateOptions struct {
	// MappableAll places every buffer in host visible memory, not just staging buffers
	MappableAll bool
}

// Device is a gpu.Device backed by a Vulkan logical device. It does not own the core1_0.Device
// it was created with unless it was made by Open.
type Device struct {
	logger  *slog.Logger
	options CreateOptions

	physicalDevice   core1_0.PhysicalDevice
	device           core1_0.Device
	limits           *core1_0.PhysicalDeviceLimits
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties

	queueFamilyIndex int
	queues           [gpu.QueueKindCount]core1_0.Queue

	submitLock  sync.Mutex
	commandPool core1_0.CommandPool

	// set by Open
	owned *ownedHandles
}

var _ gpu.Device = &Device{}

// New wraps a logical device created from physicalDevice. queueFamilyIndex must be a family with
// transfer support from which the device created queueCount queues. The transfer queue is the last
// of them and the render and compute queues are the first, so a single queue serves every kind.
func New(logger *slog.Logger, physicalDevice core1_0.PhysicalDevice, device core1_0.Device, queueFamilyIndex int, queueCount int, options CreateOptions) (*Device, error) {
	if queueCount < 1 {
		return nil, cerrors.Newf("at least one queue is required, but queueCount was %d", queueCount)
	}

	properties, err := physicalDevice.Properties()
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to read physical device properties")
	}

	err = checkLimits(properties.Limits)
	if err != nil {
		return nil, err
	}

	d := &Device{
		logger:           logger,
		options:          options,
		physicalDevice:   physicalDevice,
		device:           device,
		limits:           properties.Limits,
		memoryProperties: physicalDevice.MemoryProperties(),
		queueFamilyIndex: queueFamilyIndex,
	}

	d.queues[gpu.QueueRender] = device.GetQueue(queueFamilyIndex, 0)
	d.queues[gpu.QueueCompute] = device.GetQueue(queueFamilyIndex, 0)
	d.queues[gpu.QueueTransfer] = device.GetQueue(queueFamilyIndex, queueCount-1)

	d.commandPool, _, err = device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateTransient,
		QueueFamilyIndex: queueFamilyIndex,
	})
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to create the command pool")
	}

	logger.LogAttrs(context.Background(), slog.LevelInfo, "vulkan device ready",
		deviceAttrs(properties, queueFamilyIndex, queueCount)...,
	)

	return d, nil
}

// Destroy releases the command pool, and the device and instance too when they were created by Open.
// Every buffer and image must have been destroyed first.
func (d *Device) Destroy() {
	d.logger.Debug("Device::Destroy")

	_, err := d.device.WaitIdle()
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelError, "failed to wait for the device before destroying it",
			slog.Any("error", err))
	}

	d.commandPool.Destroy(nil)

	if d.owned != nil {
		d.owned.destroy(d.device)
		d.owned = nil
	}
}

func (d *Device) Alignment(usage gpu.BufferUsage) uint {
	return limitAlignment(d.limits, usage)
}

// checkLimits verifies that every limit used as a region alignment is a power of two
func checkLimits(limits *core1_0.PhysicalDeviceLimits) error {
	if limits == nil {
		return cerrors.New("physical device reported no limits")
	}

	for _, alignment := range []struct {
		value int
		name  string
	}{
		{limits.MinUniformBufferOffsetAlignment, "device minUniformBufferOffsetAlignment"},
		{limits.MinStorageBufferOffsetAlignment, "device minStorageBufferOffsetAlignment"},
		{limits.NonCoherentAtomSize, "device nonCoherentAtomSize"},
	} {
		err := memutils.CheckPow2(alignment.value, alignment.name)
		if err != nil {
			return err
		}
	}

	return nil
}

func limitAlignment(limits *core1_0.PhysicalDeviceLimits, usage gpu.BufferUsage) uint {
	alignment := 4
	if usage&gpu.BufferUsageUniform != 0 && limits.MinUniformBufferOffsetAlignment > alignment {
		alignment = limits.MinUniformBufferOffsetAlignment
	}
	if usage&gpu.BufferUsageStorage != 0 && limits.MinStorageBufferOffsetAlignment > alignment {
		alignment = limits.MinStorageBufferOffsetAlignment
	}
	if usage&gpu.BufferUsageStaging != 0 && limits.NonCoherentAtomSize > alignment {
		alignment = limits.NonCoherentAtomSize
	}

	return uint(alignment)
}

func deviceAttrs(properties *core1_0.PhysicalDeviceProperties, queueFamilyIndex int, queueCount int) []slog.Attr {
	return []slog.Attr{
		slog.String("driver", properties.DriverName),
		slog.Int("queueFamily", queueFamilyIndex),
		slog.Int("queues", queueCount),
	}
}

func (d *Device) WaitQueue(kind gpu.QueueKind) error {
	if kind < 0 || int(kind) >= gpu.QueueKindCount {
		return cerrors.Newf("unknown queue kind %d", kind)
	}

	d.submitLock.Lock()
	defer d.submitLock.Unlock()

	_, err := d.queues[kind].WaitIdle()
	if err != nil {
		return cerrors.Wrapf(err, "failed to wait for %s", kind)
	}
	return nil
}

func (d *Device) WaitIdle() error {
	d.submitLock.Lock()
	defer d.submitLock.Unlock()

	_, err := d.device.WaitIdle()
	return err
}

func bufferUsageFlags(usage gpu.BufferUsage) core1_0.BufferUsageFlags {
	flags := core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst

	if usage&gpu.BufferUsageVertex != 0 {
		flags |= core1_0.BufferUsageVertexBuffer
	}
	if usage&gpu.BufferUsageIndex != 0 {
		flags |= core1_0.BufferUsageIndexBuffer
	}
	if usage&gpu.BufferUsageUniform != 0 {
		flags |= core1_0.BufferUsageUniformBuffer
	}
	if usage&gpu.BufferUsageStorage != 0 {
		flags |= core1_0.BufferUsageStorageBuffer
	}
	if usage&gpu.BufferUsageIndirect != 0 {
		flags |= core1_0.BufferUsageIndirectBuffer
	}

	return flags
}

var formatMapping = map[gpu.Format]core1_0.Format{
	gpu.FormatR8Unorm:      core1_0.FormatR8UnsignedNormalized,
	gpu.FormatRGBA8Unorm:   core1_0.FormatR8G8B8A8UnsignedNormalized,
	gpu.FormatR32Sfloat:    core1_0.FormatR32SignedFloat,
	gpu.FormatRGBA32Sfloat: core1_0.FormatR32G32B32A32SignedFloat,
}

// createBuffer creates a buffer with its own memory, bound and mapped when host visible
func (d *Device) createBuffer(size int, usage gpu.BufferUsage, mappable bool) (core1_0.Buffer, *deviceMemory, error) {
	buffer, _, err := d.device.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       bufferUsageFlags(usage),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, nil, cerrors.Wrapf(err, "failed to create a %d byte buffer", size)
	}

	memory, err := d.allocateMemory(buffer.MemoryRequirements(), mappable)
	if err != nil {
		buffer.Destroy(nil)
		return nil, nil, err
	}

	_, err = buffer.BindBufferMemory(memory.memory, 0)
	if err != nil {
		memory.free()
		buffer.Destroy(nil)
		return nil, nil, cerrors.Wrap(err, "failed to bind buffer memory")
	}

	return buffer, memory, nil
}

func (d *Device) CreateBuffer(size int, usage gpu.BufferUsage) (gpu.Buffer, error) {
	d.logger.Debug("Device::CreateBuffer")

	if size <= 0 {
		return nil, cerrors.Newf("buffer size must be positive, but was %d", size)
	}

	mappable := d.options.MappableAll || usage&gpu.BufferUsageStaging != 0
	buffer, memory, err := d.createBuffer(size, usage, mappable)
	if err != nil {
		return nil, err
	}

	return &Buffer{
		device:   d,
		buffer:   buffer,
		memory:   memory,
		size:     size,
		usage:    usage,
		mappable: mappable,
	}, nil
}

func (d *Device) CreateImage(shape gpu.Extent3D, format gpu.Format) (gpu.Image, error) {
	d.logger.Debug("Device::CreateImage")

	if shape.Width <= 0 || shape.Height <= 0 || shape.Depth <= 0 {
		return nil, cerrors.Newf("image shape %+v must be positive in every dimension", shape)
	}

	vulkanFormat, ok := formatMapping[format]
	if !ok {
		return nil, cerrors.Newf("unsupported image format %s", format)
	}

	imageType := core1_0.ImageType2D
	if shape.Depth > 1 {
		imageType = core1_0.ImageType3D
	}

	image, _, err := d.device.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType:     imageType,
		Format:        vulkanFormat,
		Extent:        vulkanExtent(shape),
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return nil, cerrors.Wrapf(err, "failed to create a %dx%dx%d image", shape.Width, shape.Height, shape.Depth)
	}

	memory, err := d.allocateMemory(image.MemoryRequirements(), false)
	if err != nil {
		image.Destroy(nil)
		return nil, err
	}

	_, err = image.BindImageMemory(memory.memory, 0)
	if err == nil {
		err = d.transitionToGeneral(image)
	}
	if err != nil {
		memory.free()
		image.Destroy(nil)
		return nil, cerrors.Wrap(err, "failed to prepare image memory")
	}

	return &Image{
		image:  image,
		memory: memory,
		shape:  shape,
		format: format,
	}, nil
}

func vulkanBuffer(buffer gpu.Buffer) (*Buffer, error) {
	b, ok := buffer.(*Buffer)
	if !ok {
		return nil, ErrForeignResource
	}
	return b, nil
}

func vulkanImage(image gpu.Image) (*Image, error) {
	i, ok := image.(*Image)
	if !ok {
		return nil, ErrForeignResource
	}
	return i, nil
}

func (d *Device) CopyBuffer(src gpu.Buffer, srcOffset int, dst gpu.Buffer, dstOffset int, size int) error {
	srcBuffer, err := vulkanBuffer(src)
	if err != nil {
		return err
	}
	dstBuffer, err := vulkanBuffer(dst)
	if err != nil {
		return err
	}

	unlock := readLockBuffers(srcBuffer, dstBuffer)
	defer unlock()

	if srcBuffer.buffer == nil || dstBuffer.buffer == nil {
		return cerrors.New("buffer has been destroyed")
	}
	if srcOffset < 0 || dstOffset < 0 || size <= 0 || srcOffset+size > srcBuffer.size || dstOffset+size > dstBuffer.size {
		return cerrors.Newf("cannot copy %d bytes from offset %d of a %d byte buffer to offset %d of a %d byte buffer",
			size, srcOffset, srcBuffer.size, dstOffset, dstBuffer.size)
	}

	return d.submitOnce(gpu.QueueTransfer, func(commandBuffer core1_0.CommandBuffer) error {
		return commandBuffer.CmdCopyBuffer(srcBuffer.buffer, dstBuffer.buffer, []core1_0.BufferCopy{
			{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
		})
	})
}

func (d *Device) CopyImage(src gpu.Image, srcOffset gpu.Offset3D, dst gpu.Image, dstOffset gpu.Offset3D, shape gpu.Extent3D) error {
	srcImage, err := vulkanImage(src)
	if err != nil {
		return err
	}
	dstImage, err := vulkanImage(dst)
	if err != nil {
		return err
	}

	if srcImage.format != dstImage.format {
		return cerrors.Newf("cannot copy between images of formats %s and %s", srcImage.format, dstImage.format)
	}
	if !srcImage.shape.ContainsRegion(srcOffset, shape) || !dstImage.shape.ContainsRegion(dstOffset, shape) {
		return cerrors.Newf("image copy of shape %+v does not fit in both images", shape)
	}

	return d.submitOnce(gpu.QueueTransfer, func(commandBuffer core1_0.CommandBuffer) error {
		return commandBuffer.CmdCopyImage(srcImage.image, core1_0.ImageLayoutGeneral, dstImage.image, core1_0.ImageLayoutGeneral,
			[]core1_0.ImageCopy{
				{
					SrcSubresource: colorSubresourceLayers(),
					SrcOffset:      vulkanOffset(srcOffset),
					DstSubresource: colorSubresourceLayers(),
					DstOffset:      vulkanOffset(dstOffset),
					Extent:         vulkanExtent(shape),
				},
			})
	})
}

// readLockBuffers keeps the buffers from being resized or destroyed until the returned function is
// called. Buffer locks are always taken before the submit lock.
func readLockBuffers(buffers ...*Buffer) func() {
	var locked []*Buffer
	for _, buffer := range buffers {
		if len(locked) > 0 && locked[0] == buffer {
			continue
		}
		buffer.lock.RLock()
		locked = append(locked, buffer)
	}

	return func() {
		for _, buffer := range locked {
			buffer.lock.RUnlock()
		}
	}
}

// bufferImageCopy validates a copy between a buffer and an image. The buffer must be read locked.
func (d *Device) bufferImageCopy(buffer gpu.Buffer, bufferOffset int, image gpu.Image, imageOffset gpu.Offset3D, shape gpu.Extent3D) (*Buffer, *Image, core1_0.BufferImageCopy, error) {
	vkBuffer, err := vulkanBuffer(buffer)
	if err != nil {
		return nil, nil, core1_0.BufferImageCopy{}, err
	}
	vkImage, err := vulkanImage(image)
	if err != nil {
		return nil, nil, core1_0.BufferImageCopy{}, err
	}

	if !vkImage.shape.ContainsRegion(imageOffset, shape) {
		return nil, nil, core1_0.BufferImageCopy{}, cerrors.Newf("region of shape %+v at %+v does not fit in an image of shape %+v",
			shape, imageOffset, vkImage.shape)
	}

	size := shape.Bytes(vkImage.format)
	if bufferOffset < 0 || bufferOffset+size > vkBuffer.size {
		return nil, nil, core1_0.BufferImageCopy{}, cerrors.Newf("%d bytes at offset %d do not fit in a %d byte buffer",
			size, bufferOffset, vkBuffer.size)
	}

	return vkBuffer, vkImage, core1_0.BufferImageCopy{
		BufferOffset:      bufferOffset,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource:  colorSubresourceLayers(),
		ImageOffset:       vulkanOffset(imageOffset),
		ImageExtent:       vulkanExtent(shape),
	}, nil
}

func (d *Device) CopyBufferToImage(src gpu.Buffer, srcOffset int, dst gpu.Image, dstOffset gpu.Offset3D, shape gpu.Extent3D) error {
	buffer, err := vulkanBuffer(src)
	if err != nil {
		return err
	}
	unlock := readLockBuffers(buffer)
	defer unlock()

	_, image, region, err := d.bufferImageCopy(buffer, srcOffset, dst, dstOffset, shape)
	if err != nil {
		return err
	}

	return d.submitOnce(gpu.QueueTransfer, func(commandBuffer core1_0.CommandBuffer) error {
		return commandBuffer.CmdCopyBufferToImage(buffer.buffer, image.image, core1_0.ImageLayoutGeneral,
			[]core1_0.BufferImageCopy{region})
	})
}

func (d *Device) CopyImageToBuffer(src gpu.Image, srcOffset gpu.Offset3D, shape gpu.Extent3D, dst gpu.Buffer, dstOffset int) error {
	buffer, err := vulkanBuffer(dst)
	if err != nil {
		return err
	}
	unlock := readLockBuffers(buffer)
	defer unlock()

	_, image, region, err := d.bufferImageCopy(buffer, dstOffset, src, srcOffset, shape)
	if err != nil {
		return err
	}

	return d.submitOnce(gpu.QueueTransfer, func(commandBuffer core1_0.CommandBuffer) error {
		return commandBuffer.CmdCopyImageToBuffer(image.image, core1_0.ImageLayoutGeneral, buffer.buffer,
			[]core1_0.BufferImageCopy{region})
	})
}
