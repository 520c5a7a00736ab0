package config

const (
	defaultHost              = "127.0.0.1"
	defaultTCPPort           = 10001
	defaultUDPPort           = 10002
	defaultDialTimeoutMS     = 3000
	defaultInitialMode       = "left"
	defaultControlJoint      = "hand_right"
	defaultDepthThreshold    = 0.05
	defaultPlanarThreshold   = 7
	defaultTumbleRepeat      = 5
	defaultTumbleIntervalMS  = 1
	defaultQueueSize         = 64
	defaultListen            = ":8090"
	defaultCameraSliceMS     = 1000
	defaultGestureSliceMS    = 100
	defaultElevationMin      = -27
	defaultElevationMax      = 27
	defaultElevationStep     = 3
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultProjectConfigName = "i4c3d.toml"
	defaultUserConfigPath    = "~/.config/i4c3d/config.toml"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Target: Target{
			Host:          defaultHost,
			TCPPort:       defaultTCPPort,
			UDPPort:       defaultUDPPort,
			DialTimeoutMS: defaultDialTimeoutMS,
		},
		Gesture: Gesture{
			InitialMode:      defaultInitialMode,
			ControlJoint:     defaultControlJoint,
			DepthThreshold:   defaultDepthThreshold,
			PlanarThreshold:  defaultPlanarThreshold,
			TumbleRepeat:     defaultTumbleRepeat,
			TumbleIntervalMS: defaultTumbleIntervalMS,
		},
		Dispatch: Dispatch{
			QueueSize: defaultQueueSize,
		},
		Server: Server{
			Listen:    defaultListen,
			Dashboard: true,
		},
		Voice: Voice{
			CameraSliceMS:    defaultCameraSliceMS,
			GestureSliceMS:   defaultGestureSliceMS,
			CameraEnabled:    true,
			WaitForCameraFix: false,
		},
		Camera: Camera{
			ElevationMin:  defaultElevationMin,
			ElevationMax:  defaultElevationMax,
			ElevationStep: defaultElevationStep,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
