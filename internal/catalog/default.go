package catalog

import "hgu-gateway/internal/model"

func db100(tag string) string {
	return `ns=2;s="DB100"."` + tag + `"`
}

func analog(id, name, tag, unit string, cat model.Category, min, max float64) model.SensorDefinition {
	return model.SensorDefinition{ID: id, Name: name, Address: db100(tag), Unit: unit, Category: cat, Min: min, Max: max}
}

func digital(id, name, tag string, cat model.Category) model.SensorDefinition {
	return model.SensorDefinition{ID: id, Name: name, Address: db100(tag), Category: cat, Min: 0, Max: 1, Digital: true}
}

// Definitions returns the hydraulic ground unit point list served by data block DB100.
func Definitions() []model.SensorDefinition {
	return []model.SensorDefinition{
		analog("pressure_supply", "Supply Pressure", "Pressure_Supply", "bar", model.CategoryPressure, 0, 350),
		analog("pressure_return", "Return Pressure", "Pressure_Return", "bar", model.CategoryPressure, 0, 50),
		analog("pressure_accumulator", "Accumulator Pressure", "Pressure_Accumulator", "bar", model.CategoryPressure, 0, 350),
		analog("pressure_filter_inlet", "Filter Inlet Pressure", "Pressure_Filter_Inlet", "bar", model.CategoryPressure, 0, 50),
		analog("pressure_filter_outlet", "Filter Outlet Pressure", "Pressure_Filter_Outlet", "bar", model.CategoryPressure, 0, 50),

		analog("temperature_oil_tank", "Tank Oil Temperature", "Temperature_Oil_Tank", "°C", model.CategoryTemperature, -10, 80),
		analog("temperature_oil_return", "Return Oil Temperature", "Temperature_Oil_Return", "°C", model.CategoryTemperature, -10, 80),
		analog("temperature_motor", "Motor Temperature", "Temperature_Motor", "°C", model.CategoryTemperature, -10, 100),
		analog("temperature_ambient", "Ambient Temperature", "Temperature_Ambient", "°C", model.CategoryTemperature, -10, 50),

		analog("flow_rate_supply", "Supply Flow", "Flow_Rate_Supply", "L/min", model.CategoryFlow, 0, 200),
		analog("flow_rate_return", "Return Flow", "Flow_Rate_Return", "L/min", model.CategoryFlow, 0, 200),

		analog("oil_level_tank", "Tank Oil Level", "Oil_Level_Tank", "%", model.CategoryLevel, 0, 100),

		analog("pump_current", "Motor Current", "Pump_Current", "A", model.CategoryPump, 0, 50),
		analog("pump_speed", "Motor Speed", "Pump_Speed", "rpm", model.CategoryPump, 0, 1500),
		analog("pump_power", "Motor Power", "Pump_Power", "kW", model.CategoryPump, 0, 30),
		analog("pump_hours", "Total Running Hours", "Pump_Hours", "h", model.CategoryPump, 0, 100000),

		analog("filter_pressure_diff", "Filter Differential Pressure", "Filter_Pressure_Diff", "bar", model.CategoryFilter, 0, 10),

		digital("pump_status", "Pump Running", "Pump_Status", model.CategorySystem),
		digital("system_ready", "System Ready", "System_Ready", model.CategorySystem),
		digital("system_running", "System Running", "System_Running", model.CategorySystem),
		digital("emergency_stop", "Emergency Stop", "Emergency_Stop", model.CategorySystem),
		digital("maintenance_mode", "Maintenance Mode", "Maintenance_Mode", model.CategorySystem),

		digital("oil_level_low_alarm", "Low Oil Level", "Oil_Level_Low_Alarm", model.CategoryAlarm),
		digital("filter_status", "Filter Status", "Filter_Status", model.CategoryFilter),
		digital("filter_alarm", "Filter Clogged Alarm", "Filter_Alarm", model.CategoryAlarm),
		digital("alarm_high_pressure", "High Pressure Alarm", "Alarm_High_Pressure", model.CategoryAlarm),
		digital("alarm_high_temperature", "High Temperature Alarm", "Alarm_High_Temperature", model.CategoryAlarm),
		digital("alarm_low_oil_level", "Low Oil Level Alarm", "Alarm_Low_Oil_Level", model.CategoryAlarm),
		digital("warning_filter", "Filter Warning", "Warning_Filter", model.CategoryAlarm),
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(Definitions())
	if err != nil {
		panic(err)
	}
	return c
}
