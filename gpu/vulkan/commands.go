package vulkan

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conveyor/gpu"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// submitOnce records commands into a fresh primary command buffer, submits it to the queue of the
// given kind and waits for that queue to go idle. Command pools and queues require external
// synchronization, so submissions are serialized.
func (d *Device) submitOnce(kind gpu.QueueKind, record func(commandBuffer core1_0.CommandBuffer) error) error {
	d.submitLock.Lock()
	defer d.submitLock.Unlock()

	commandBuffers, _, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to allocate a command buffer")
	}
	defer d.device.FreeCommandBuffers(commandBuffers)

	commandBuffer := commandBuffers[0]
	_, err = commandBuffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return cerrors.Wrap(err, "failed to begin the command buffer")
	}

	err = record(commandBuffer)
	if err != nil {
		return err
	}

	_, err = commandBuffer.End()
	if err != nil {
		return cerrors.Wrap(err, "failed to end the command buffer")
	}

	queue := d.queues[kind]
	_, err = queue.Submit(nil, []core1_0.SubmitInfo{
		{CommandBuffers: commandBuffers},
	})
	if err != nil {
		return cerrors.Wrapf(err, "failed to submit to %s", kind)
	}

	_, err = queue.WaitIdle()
	if err != nil {
		return cerrors.Wrapf(err, "failed to wait for %s", kind)
	}

	return nil
}

func colorSubresourceLayers() core1_0.ImageSubresourceLayers {
	return core1_0.ImageSubresourceLayers{
		AspectMask:     core1_0.ImageAspectColor,
		MipLevel:       0,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func vulkanOffset(offset gpu.Offset3D) core1_0.Offset3D {
	return core1_0.Offset3D{X: offset.X, Y: offset.Y, Z: offset.Z}
}

func vulkanExtent(shape gpu.Extent3D) core1_0.Extent3D {
	return core1_0.Extent3D{Width: shape.Width, Height: shape.Height, Depth: shape.Depth}
}

// transitionToGeneral moves a freshly created image out of the undefined layout. Images stay in
// the general layout afterwards, so copies never need to track layouts.
func (d *Device) transitionToGeneral(image core1_0.Image) error {
	return d.submitOnce(gpu.QueueTransfer, func(commandBuffer core1_0.CommandBuffer) error {
		return commandBuffer.CmdPipelineBarrier(
			core1_0.PipelineStageTopOfPipe,
			core1_0.PipelineStageTransfer,
			0,
			nil,
			nil,
			[]core1_0.ImageMemoryBarrier{
				{
					SrcAccessMask:       0,
					DstAccessMask:       core1_0.AccessTransferRead | core1_0.AccessTransferWrite,
					OldLayout:           core1_0.ImageLayoutUndefined,
					NewLayout:           core1_0.ImageLayoutGeneral,
					SrcQueueFamilyIndex: d.queueFamilyIndex,
					DstQueueFamilyIndex: d.queueFamilyIndex,
					Image:               image,
					SubresourceRange: core1_0.ImageSubresourceRange{
						AspectMask:     core1_0.ImageAspectColor,
						BaseMipLevel:   0,
						LevelCount:     1,
						BaseArrayLayer: 0,
						LayerCount:     1,
					},
				},
			},
		)
	})
}
