package goAuthClient

// SDKVersion is reported to the platform in the device info of every login.
const SDKVersion = "0.4.0"
