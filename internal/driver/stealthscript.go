package driver

import "fmt"

// stealthScript returns the anti-detection JavaScript applied to every new
// document: webdriver removal, plugin/language mocks, canvas and WebGL
// noise, and screen/platform consistency with the emulated viewport.
func stealthScript(width, height int, platform string) string {
	return fmt.Sprintf(`() => {
		const width = %d, height = %d, platform = %q;

		Object.defineProperty(navigator, 'webdriver', {
			get: () => undefined
		});

		window.chrome = {
			runtime: {},
			loadTimes: function() {},
			csi: function() {},
			app: {}
		};

		Object.defineProperty(navigator, 'plugins', {
			get: () => [
				{
					name: 'PDF Viewer',
					filename: 'internal-pdf-viewer',
					description: 'Portable Document Format'
				},
				{
					name: 'Chrome PDF Viewer',
					filename: 'internal-pdf-viewer',
					description: 'Portable Document Format'
				},
				{
					name: 'Chromium PDF Viewer',
					filename: 'internal-pdf-viewer',
					description: 'Portable Document Format'
				}
			]
		});

		Object.defineProperty(navigator, 'languages', {
			get: () => ['en-GB', 'en']
		});

		const originalQuery = window.navigator.permissions.query;
		window.navigator.permissions.query = (parameters) => (
			parameters.name === 'notifications'
				? Promise.resolve({ state: Notification.permission })
				: originalQuery(parameters)
		);

		Object.defineProperty(navigator, 'hardwareConcurrency', {
			get: () => 4 + Math.floor(Math.random() * 8)
		});

		Object.defineProperty(navigator, 'deviceMemory', {
			get: () => 8
		});

		const originalToDataURL = HTMLCanvasElement.prototype.toDataURL;
		HTMLCanvasElement.prototype.toDataURL = function(type) {
			const context = this.getContext('2d');
			const imageData = context.getImageData(0, 0, this.width, this.height);
			for (let i = 0; i < imageData.data.length; i += 4) {
				if (Math.random() < 0.001) {
					imageData.data[i] = imageData.data[i] + Math.floor(Math.random() * 2) - 1;
				}
			}
			context.putImageData(imageData, 0, 0);
			return originalToDataURL.apply(this, arguments);
		};

		const getParameter = WebGLRenderingContext.prototype.getParameter;
		WebGLRenderingContext.prototype.getParameter = function(parameter) {
			if (parameter === 37445) { // UNMASKED_VENDOR_WEBGL
				return 'Intel Inc.';
			}
			if (parameter === 37446) { // UNMASKED_RENDERER_WEBGL
				return 'Intel Iris OpenGL Engine';
			}
			return getParameter.apply(this, arguments);
		};

		Object.defineProperty(window.screen, 'width', { get: () => width + 100 });
		Object.defineProperty(window.screen, 'height', { get: () => height + 100 });
		Object.defineProperty(window.screen, 'availWidth', { get: () => width + 100 });
		Object.defineProperty(window.screen, 'availHeight', { get: () => height + 60 });

		Object.defineProperty(navigator, 'platform', {
			get: () => platform
		});

		if ('getBattery' in navigator) {
			navigator.getBattery = () => Promise.resolve({
				charging: true,
				chargingTime: 0,
				dischargingTime: Infinity,
				level: 1.0
			});
		}

		Object.defineProperty(navigator, 'connection', {
			get: () => ({
				effectiveType: '4g',
				downlink: 10,
				rtt: 50,
				saveData: false
			})
		});
	}`, width, height, platform)
}

// instrumentationScript installs passive listeners that keep scroll and
// pointer state looking organic to in-page trackers.
func instrumentationScript() string {
	return `() => {
		let lastMouseX = 0;
		let lastMouseY = 0;
		document.addEventListener('mousemove', (e) => {
			lastMouseX = e.clientX;
			lastMouseY = e.clientY;
		});

		let isScrolling = false;
		document.addEventListener('scroll', () => {
			if (!isScrolling) {
				isScrolling = true;
				setTimeout(() => { isScrolling = false; }, Math.random() * 500 + 500);
			}
		});
	}`
}
