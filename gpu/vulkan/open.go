package vulkan

import (
	"context"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v2/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v2/khr_portability_subset"
	"golang.org/x/exp/slog"
)

// OpenOptions configures the instance and device created by Open
type OpenOptions struct {
	// ApplicationName is reported to the driver
	ApplicationName string
	// Validation enables ext_debug_utils and forwards validation warnings and errors to the logger
	Validation bool
	// PhysicalDeviceIndex selects among the enumerated physical devices
	PhysicalDeviceIndex int

	CreateOptions
}

type ownedHandles struct {
	instance  core1_0.Instance
	messenger ext_debug_utils.DebugUtilsMessenger
}

func (h *ownedHandles) destroy(device core1_0.Device) {
	device.Destroy(nil)
	if h.messenger != nil {
		h.messenger.Destroy(nil)
	}
	h.instance.Destroy(nil)
}

func debugCallback(logger *slog.Logger) func(ext_debug_utils.DebugUtilsMessageTypeFlags, ext_debug_utils.DebugUtilsMessageSeverityFlags, *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	return func(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
		level := slog.LevelWarn
		if severity&ext_debug_utils.SeverityError != 0 {
			level = slog.LevelError
		}

		logger.LogAttrs(context.Background(), level, data.Message,
			slog.String("type", msgType.String()),
			slog.String("severity", severity.String()),
		)
		return false
	}
}

// Open loads the system Vulkan loader and creates an instance and a logical device with a single
// queue family that supports graphics. The returned Device owns both and destroys them in Destroy.
// Portability enumeration and the portability subset are enabled when the driver offers them.
func Open(logger *slog.Logger, options OpenOptions) (*Device, error) {
	loader, err := core.CreateSystemLoader()
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to load the vulkan loader")
	}

	instanceExtensions, _, err := loader.AvailableExtensions()
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to enumerate instance extensions")
	}

	var instanceExtensionNames []string
	var flags core1_0.InstanceCreateFlags
	_, ok := instanceExtensions[khr_portability_enumeration.ExtensionName]
	if ok {
		instanceExtensionNames = append(instanceExtensionNames, khr_portability_enumeration.ExtensionName)
		flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	messengerInfo := ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    debugCallback(logger),
	}

	instanceInfo := core1_0.InstanceCreateInfo{
		ApplicationName:    options.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "conveyor",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_0,
		Flags:              flags,
	}

	_, validation := instanceExtensions[ext_debug_utils.ExtensionName]
	validation = validation && options.Validation
	if validation {
		instanceExtensionNames = append(instanceExtensionNames, ext_debug_utils.ExtensionName)
		instanceInfo.NextOptions = common.NextOptions{Next: messengerInfo}
	}
	instanceInfo.EnabledExtensionNames = instanceExtensionNames

	instance, _, err := loader.CreateInstance(nil, instanceInfo)
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to create the vulkan instance")
	}

	owned := &ownedHandles{instance: instance}
	fail := func(err error) (*Device, error) {
		if owned.messenger != nil {
			owned.messenger.Destroy(nil)
		}
		instance.Destroy(nil)
		return nil, err
	}

	if validation {
		debugLoader := ext_debug_utils.CreateExtensionFromInstance(instance)
		owned.messenger, _, err = debugLoader.CreateDebugUtilsMessenger(instance, nil, messengerInfo)
		if err != nil {
			return fail(cerrors.Wrap(err, "failed to create the debug messenger"))
		}
	}

	physicalDevices, _, err := instance.EnumeratePhysicalDevices()
	if err != nil {
		return fail(cerrors.Wrap(err, "failed to enumerate physical devices"))
	}
	if options.PhysicalDeviceIndex < 0 || options.PhysicalDeviceIndex >= len(physicalDevices) {
		return fail(cerrors.Newf("physical device %d requested, but %d are present", options.PhysicalDeviceIndex, len(physicalDevices)))
	}
	physicalDevice := physicalDevices[options.PhysicalDeviceIndex]

	queueFamily := -1
	queueCount := 0
	for queueIndex, family := range physicalDevice.QueueFamilyProperties() {
		if family.QueueFlags&core1_0.QueueGraphics != 0 {
			queueFamily = queueIndex
			queueCount = family.QueueCount
			break
		}
	}
	if queueFamily < 0 {
		return fail(cerrors.New("the physical device has no graphics queue family"))
	}

	// One queue for rendering and one for transfers when the family has room for both
	if queueCount > 2 {
		queueCount = 2
	}
	priorities := make([]float32, queueCount)
	for i := range priorities {
		priorities[i] = 1.0
	}

	var deviceExtensionNames []string
	deviceExtensions, _, err := physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return fail(cerrors.Wrap(err, "failed to enumerate device extensions"))
	}
	_, ok = deviceExtensions[khr_portability_subset.ExtensionName]
	if ok {
		deviceExtensionNames = append(deviceExtensionNames, khr_portability_subset.ExtensionName)
	}

	device, _, err := physicalDevice.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: queueFamily,
				QueuePriorities:  priorities,
			},
		},
		EnabledExtensionNames: deviceExtensionNames,
	})
	if err != nil {
		return fail(cerrors.Wrap(err, "failed to create the logical device"))
	}

	d, err := New(logger, physicalDevice, device, queueFamily, queueCount, options.CreateOptions)
	if err != nil {
		device.Destroy(nil)
		return fail(err)
	}

	d.owned = owned
	return d, nil
}
